// Package config assembles the receiver's configuration from defaults,
// an optional YAML file, environment variables and command-line flags.
// Later sources win: flags over environment, environment over file.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the restitch binary.
type Config struct {
	ManifestPath string `yaml:"manifest"`    // transfer manifest (JSON)
	ChunkDir     string `yaml:"chunk_dir"`   // directory holding chunk payload files
	OutPath      string `yaml:"out"`         // final output file path
	WorkDir      string `yaml:"work_dir"`    // partial files and resume journals (default: out dir)
	LogLevel     string `yaml:"log_level"`   // debug, info, warn, error
	Hash         string `yaml:"hash"`        // crc32c, sha256, none
	MaxWrites    int    `yaml:"max_writes"`  // concurrent disk writes per transfer
	MaxQueue     int    `yaml:"max_queue"`   // hard cap on queued+in-flight writes
	HistoryDB    string `yaml:"history_db"`  // transfer history database ("" disables)
	Resume       bool   `yaml:"resume"`      // reuse chunks recorded in the resume journal
	TransferID   string `yaml:"transfer_id"` // stable id for resume ("" generates one)
	Workers      int    `yaml:"workers"`     // concurrent chunk feeders
}

// Parse builds the configuration from the process arguments and
// environment.
func Parse() (Config, error) {
	return parseWithFlagSet(flag.CommandLine, os.Args[1:], os.Getenv)
}

// ParseArgs builds the configuration from explicit arguments, for
// subcommands carrying their own flag set.
func ParseArgs(fs *flag.FlagSet, args []string) (Config, error) {
	return parseWithFlagSet(fs, args, os.Getenv)
}

// parseWithFlagSet is an internal helper for testing with isolated flag
// sets and environments.
func parseWithFlagSet(fs *flag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	cfg := Config{
		LogLevel:  "info",
		Hash:      "crc32c",
		MaxWrites: 4,
		MaxQueue:  32,
		Resume:    true,
		Workers:   4,
	}

	// The config file is the lowest-priority source, so it has to be
	// located before anything else is applied.
	filePath := getenv("RESTITCH_CONFIG")
	if fromArgs := configFlagValue(args); fromArgs != "" {
		filePath = fromArgs
	}
	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Environment overrides the file.
	if v := getenv("RESTITCH_MANIFEST"); v != "" {
		cfg.ManifestPath = v
	}
	if v := getenv("RESTITCH_CHUNK_DIR"); v != "" {
		cfg.ChunkDir = v
	}
	if v := getenv("RESTITCH_OUT"); v != "" {
		cfg.OutPath = v
	}
	if v := getenv("RESTITCH_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := getenv("RESTITCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("RESTITCH_HASH"); v != "" {
		cfg.Hash = v
	}
	if v := getenv("RESTITCH_HISTORY_DB"); v != "" {
		cfg.HistoryDB = v
	}
	if v := getenv("RESTITCH_TRANSFER_ID"); v != "" {
		cfg.TransferID = v
	}
	if v := getenv("RESTITCH_MAX_WRITES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWrites = n
		}
	}
	if v := getenv("RESTITCH_MAX_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueue = n
		}
	}

	// Flags override everything.
	var configPath string
	fs.StringVar(&configPath, "config", filePath, "YAML config file")
	fs.StringVar(&cfg.ManifestPath, "manifest", cfg.ManifestPath, "transfer manifest (JSON)")
	fs.StringVar(&cfg.ChunkDir, "chunks", cfg.ChunkDir, "directory holding chunk payload files")
	fs.StringVar(&cfg.OutPath, "out", cfg.OutPath, "final output file path")
	fs.StringVar(&cfg.WorkDir, "work-dir", cfg.WorkDir, "directory for partial files and resume journals")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Hash, "hash", cfg.Hash, "chunk digest algorithm (crc32c, sha256, none)")
	fs.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "transfer history database (empty disables)")
	fs.StringVar(&cfg.TransferID, "transfer-id", cfg.TransferID, "stable transfer id for resume")
	fs.IntVar(&cfg.MaxWrites, "max-writes", cfg.MaxWrites, "concurrent disk writes per transfer")
	fs.IntVar(&cfg.MaxQueue, "max-queue", cfg.MaxQueue, "hard cap on queued+in-flight writes")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent chunk feeders")
	fs.BoolVar(&cfg.Resume, "resume", cfg.Resume, "reuse chunks recorded in the resume journal")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Validate reports the first missing required setting.
func (c Config) Validate() error {
	if c.ManifestPath == "" {
		return fmt.Errorf("manifest path is required")
	}
	if c.ChunkDir == "" {
		return fmt.Errorf("chunk directory is required")
	}
	if c.OutPath == "" {
		return fmt.Errorf("output path is required")
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// configFlagValue extracts the -config flag from raw arguments. The
// file must be known before flag parsing because its values sit below
// the other flags in precedence.
func configFlagValue(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != "config" || !strings.HasPrefix(arg, "-") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestParse_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{}, noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
	if cfg.Hash != "crc32c" {
		t.Errorf("expected Hash to be crc32c, got %s", cfg.Hash)
	}
	if cfg.MaxWrites != 4 {
		t.Errorf("expected MaxWrites to be 4, got %d", cfg.MaxWrites)
	}
	if cfg.MaxQueue != 32 {
		t.Errorf("expected MaxQueue to be 32, got %d", cfg.MaxQueue)
	}
	if !cfg.Resume {
		t.Error("expected Resume to default to true")
	}
}

func TestParse_Flags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{
		"-manifest", "m.json",
		"-chunks", "/chunks",
		"-out", "/data/out.bin",
		"-log-level", "debug",
		"-hash", "sha256",
		"-max-writes", "8",
		"-max-queue", "64",
		"-resume=false",
	}, noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ManifestPath != "m.json" {
		t.Errorf("expected ManifestPath to be m.json, got %s", cfg.ManifestPath)
	}
	if cfg.ChunkDir != "/chunks" {
		t.Errorf("expected ChunkDir to be /chunks, got %s", cfg.ChunkDir)
	}
	if cfg.OutPath != "/data/out.bin" {
		t.Errorf("expected OutPath to be /data/out.bin, got %s", cfg.OutPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
	if cfg.Hash != "sha256" {
		t.Errorf("expected Hash to be sha256, got %s", cfg.Hash)
	}
	if cfg.MaxWrites != 8 || cfg.MaxQueue != 64 {
		t.Errorf("expected limits 8/64, got %d/%d", cfg.MaxWrites, cfg.MaxQueue)
	}
	if cfg.Resume {
		t.Error("expected Resume to be disabled by flag")
	}
}

func TestParse_EnvFallback(t *testing.T) {
	env := envMap(map[string]string{
		"RESTITCH_MANIFEST":   "env.json",
		"RESTITCH_LOG_LEVEL":  "warn",
		"RESTITCH_MAX_WRITES": "2",
	})

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{}, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ManifestPath != "env.json" {
		t.Errorf("expected ManifestPath to be env.json, got %s", cfg.ManifestPath)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn, got %s", cfg.LogLevel)
	}
	if cfg.MaxWrites != 2 {
		t.Errorf("expected MaxWrites to be 2, got %d", cfg.MaxWrites)
	}
}

func TestParse_FlagsOverrideEnv(t *testing.T) {
	env := envMap(map[string]string{
		"RESTITCH_LOG_LEVEL": "warn",
	})

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{"-log-level", "error"}, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (from flag), got %s", cfg.LogLevel)
	}
}

func TestParse_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restitch.yaml")
	content := "manifest: file.json\nlog_level: debug\nmax_writes: 16\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{"-config", path}, noEnv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ManifestPath != "file.json" {
		t.Errorf("expected ManifestPath to be file.json, got %s", cfg.ManifestPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
	if cfg.MaxWrites != 16 {
		t.Errorf("expected MaxWrites to be 16, got %d", cfg.MaxWrites)
	}
}

func TestParse_EnvAndFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restitch.yaml")
	content := "log_level: debug\nhash: sha256\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	env := envMap(map[string]string{
		"RESTITCH_CONFIG": path,
		"RESTITCH_HASH":   "none",
	})

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg, err := parseWithFlagSet(fs, []string{"-log-level", "error"}, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Hash != "none" {
		t.Errorf("expected Hash to be none (env over file), got %s", cfg.Hash)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (flag over file), got %s", cfg.LogLevel)
	}
}

func TestParse_MissingConfigFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	_, err := parseWithFlagSet(fs, []string{"-config", "/nonexistent/restitch.yaml"}, noEnv)
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigFlagValue(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config", "b.yaml"}, "b.yaml"},
		{[]string{"-config=c.yaml"}, "c.yaml"},
		{[]string{"-out", "x", "--config=d.yaml"}, "d.yaml"},
		{[]string{"-out", "x"}, ""},
		{[]string{"--", "-config", "ignored.yaml"}, ""},
		{[]string{}, ""},
	}
	for _, tc := range cases {
		if got := configFlagValue(tc.args); got != tc.want {
			t.Errorf("configFlagValue(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := Config{ManifestPath: "m.json", ChunkDir: "/chunks", OutPath: "/out.bin"}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error for valid config: %v", err)
	}

	for _, cfg := range []Config{
		{ChunkDir: "/chunks", OutPath: "/out.bin"},
		{ManifestPath: "m.json", OutPath: "/out.bin"},
		{ManifestPath: "m.json", ChunkDir: "/chunks"},
	} {
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", cfg)
		}
	}
}

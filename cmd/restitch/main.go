package main

import (
	"fmt"
	"os"
)

const version = "v0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if hasVersionFlag(args) {
		fmt.Printf("restitch %s\n", version)
		return
	}

	switch args[0] {
	case "stitch":
		if err := runStitch(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "restitch: %v\n", err)
			os.Exit(1)
		}
	case "history":
		if err := runHistory(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "restitch: %v\n", err)
			os.Exit(1)
		}
	default:
		if hasHelpFlag(args) {
			printUsage()
			return
		}
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: restitch <command> [args]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  stitch   reassemble a file from its manifest and chunk directory")
	fmt.Fprintln(os.Stderr, "  history  show recent transfer outcomes")
	fmt.Fprintln(os.Stderr, "quick examples:")
	fmt.Fprintln(os.Stderr, "  restitch stitch -manifest m.json -chunks ./chunks -out ./file.bin")
	fmt.Fprintln(os.Stderr, "  restitch history -history-db ~/.restitch/history.db")
	fmt.Fprintln(os.Stderr, "to learn detailed usage:")
	fmt.Fprintln(os.Stderr, "  restitch stitch --help")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

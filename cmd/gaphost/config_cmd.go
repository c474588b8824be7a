package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/gaphost/internal/config"
)

type configCheckResult struct {
	Valid     bool     `json:"valid"`
	Path      string   `json:"path"`
	Files     []string `json:"files,omitempty"`
	Transport string   `json:"transport,omitempty"`
	Bridge    bool     `json:"bridge_available"`
	API       bool     `json:"api_enabled"`
	Error     string   `json:"error,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	result := configCheckResult{Path: path}
	cfg, err := config.Load(path)
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
		result.Transport = cfg.Bridge.Transport
		result.Bridge = cfg.Device.UUID != ""
		result.API = cfg.API.Enabled
		result.Files, _ = config.DiscoverAllConfigFiles(path)
	}

	if *jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else if result.Valid {
		fmt.Printf("Configuration OK: %s\n", path)
		for _, f := range result.Files {
			fmt.Printf("  - %s\n", f)
		}
		fmt.Printf("bridge transport: %s (device bridge available: %t)\n", result.Transport, result.Bridge)
		fmt.Printf("api enabled: %t\n", result.API)
	} else {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", result.Error)
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	reports, err := config.Lock(path, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	for _, report := range reports {
		if !isVerbose {
			continue
		}
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, file := range report.Files {
			if file.Exists {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found\n", file.Filename)
		}
		if dryRun {
			fmt.Printf("  DRY-RUN .checksums: %s (not written)\n", report.ChecksumPath)
		} else {
			fmt.Printf("  WROTE .checksums: %s\n", report.ChecksumPath)
		}
	}

	if dryRun {
		fmt.Printf("Dry run completed for %d directory/ies (no files written):\n", len(reports))
	} else {
		fmt.Printf("Successfully locked configuration in %d directory/ies:\n", len(reports))
	}
	for _, report := range reports {
		fmt.Printf("  - %s\n", report.ConfigDir)
	}
	return 0
}

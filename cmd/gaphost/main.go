package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "journal":
		return runJournalNoun(args)

	// --- VERBS ---
	case "exec":
		if hasHelpFlag(args) {
			printExecHelp()
			return 0
		}
		return runExec(args)
	case "monitor":
		if hasHelpFlag(args) {
			printMonitorHelp()
			return 0
		}
		return runMonitor(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: gaphost version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("gaphost %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`gaphost - PhoneGap device shim host

Usage:
  gaphost <noun> <action> [flags]
  gaphost <verb> [args] [flags]

Resources (Nouns):
  system    Host lifecycle and health
  config    Configuration and integrity
  journal   Audit trail of gap:// bridge calls

System Commands:
  system start      Run the host in the foreground
  system status     Show config, database, lock and API health

Config Commands:
  config check      Validate configuration and integrity hashes
  config lock       Write .checksums for every config file

Journal Commands:
  journal list      Show recent bridge calls, newest first
  journal verify    Recompute and compare URI digests

Verbs:
  exec <command> [args...]   Queue a bridge command on a running host
  monitor                    Live TUI of the command queue

General:
  version           Show version information
  help              Show this help message

Use 'gaphost <noun> help' for action-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func runJournalNoun(args []string) int {
	if len(args) < 1 {
		printJournalNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJournalNounHelp(os.Stdout)
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printJournalListHelp()
			return 0
		}
		return runJournalList(actionArgs)
	case "verify":
		if hasHelpFlag(actionArgs) {
			printJournalVerifyHelp()
			return 0
		}
		return runJournalVerify(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown journal action: %s\n", action)
		printJournalNounHelp(os.Stderr)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gaphost system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gaphost config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printJournalNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: gaphost journal <action> [flags]")
	fmt.Fprintln(w, "Actions: list, verify")
}

func printSystemStartHelp() {
	fmt.Println("Usage: gaphost system start [--config PATH] [--script FILE]... [--hold-ready]")
	fmt.Println("Run the host in the foreground. Each --script is evaluated as page script;")
	fmt.Println("afterwards the document moves to complete unless --hold-ready is set.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: gaphost system status [--config PATH] [--json]")
	fmt.Println("Show config, database readiness, PID lock state and API health.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: gaphost config check [--config PATH] [--json]")
	fmt.Println("Load, interpolate and validate configuration, verifying .checksums when present.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: gaphost config lock [--config PATH] [--dry-run] [-v]")
	fmt.Println("Write BLAKE3 hashes of every config file into .checksums.")
}

func printJournalListHelp() {
	fmt.Println("Usage: gaphost journal list [--config PATH] [--command NAME] [--limit N] [--json]")
	fmt.Println("Show recent bridge calls, newest first.")
}

func printJournalVerifyHelp() {
	fmt.Println("Usage: gaphost journal verify [--config PATH] [--limit N]")
	fmt.Println("Recompute each entry's URI digest and report mismatches.")
}

func printExecHelp() {
	fmt.Println("Usage: gaphost exec [--api-url URL] [--api-key KEY] <command> [args...]")
	fmt.Println("Queue a command on a running host, e.g. gaphost exec Device.vibrate 500")
}

func printMonitorHelp() {
	fmt.Println("Usage: gaphost monitor [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the live command queue dashboard.")
}

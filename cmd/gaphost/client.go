package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/gaphost/internal/api"
	"github.com/mattjoyce/gaphost/internal/config"
	"github.com/mattjoyce/gaphost/internal/journal"
	"github.com/mattjoyce/gaphost/internal/lock"
	"github.com/mattjoyce/gaphost/internal/storage"
	"github.com/mattjoyce/gaphost/internal/tui"
)

const defaultAPIURL = "http://127.0.0.1:8765"

func apiFlags(fs *flag.FlagSet) (apiURL, apiKey *string) {
	apiURL = fs.String("api-url", envOr("GAPHOST_API_URL", defaultAPIURL), "Host API URL")
	apiKey = fs.String("api-key", os.Getenv("GAPHOST_API_KEY"), "API bearer token")
	return apiURL, apiKey
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runExec(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 1 {
		printExecHelp()
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or GAPHOST_API_KEY env var.")
		return 1
	}

	resp, err := postExec(context.Background(), *apiURL, *apiKey, fs.Arg(0), fs.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "exec failed: %v\n", err)
		return 1
	}
	fmt.Printf("%s %s %s\n", resp.CommandID, resp.Status, resp.URI)
	return 0
}

func postExec(ctx context.Context, apiURL, apiKey, command string, args []string) (*api.ExecResponse, error) {
	body, err := json.Marshal(api.ExecRequest{Args: args})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/exec/"+command, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusAccepted {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(res.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s", res.Status, apiErr.Error)
		}
		return nil, errors.New(res.Status)
	}

	var out api.ExecResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or GAPHOST_API_KEY env var.")
		return 1
	}

	if err := tui.Run(*apiURL, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runJournalList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	command := fs.String("command", "", "Only show this command")
	limit := fs.Int("limit", 20, "Maximum entries")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	entries, err := readJournal(*configPath, journal.Filter{Command: *command, Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No journal entries.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATUS\tSENT\tURI")
	for _, e := range entries {
		uri := e.URI
		if e.LastError != "" {
			uri += "  (" + e.LastError + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Comma(e.Seq), e.Status, humanize.Time(e.SentAt), uri)
	}
	_ = tw.Flush()
	return 0
}

func runJournalVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 1000, "Number of most recent entries to check")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	entries, err := readJournal(*configPath, journal.Filter{Limit: *limit})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := journal.Verify(entries); err != nil {
		fmt.Fprintf(os.Stderr, "Journal verification failed: %v\n", err)
		return 1
	}
	fmt.Printf("Verified %s journal entries.\n", humanize.Comma(int64(len(entries))))
	return 0
}

// readJournal opens the state database named by the config and lists entries.
// WAL mode lets this run beside a live host.
func readJournal(configPath string, f journal.Filter) ([]journal.Entry, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to discover config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return journal.List(ctx, db, f)
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := collectStatus(*configPath)

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("[%s] %-8s %s\n", mark, c.Name, c.Detail)
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func collectStatus(configPath string) statusReport {
	report := statusReport{Healthy: true}
	add := func(c statusCheck) {
		report.Checks = append(report.Checks, c)
		if !c.OK {
			report.Healthy = false
		}
	}

	path, err := resolveConfigPath(configPath)
	if err != nil {
		add(statusCheck{Name: "config", Detail: err.Error()})
		return report
	}
	cfg, err := config.Load(path)
	if err != nil {
		add(statusCheck{Name: "config", Detail: err.Error()})
		return report
	}
	add(statusCheck{Name: "config", OK: true, Detail: path})

	ctx := context.Background()
	if db, err := storage.OpenSQLite(ctx, cfg.State.Path); err != nil {
		add(statusCheck{Name: "database", Detail: err.Error()})
	} else {
		err := db.PingContext(ctx)
		_ = db.Close()
		if err != nil {
			add(statusCheck{Name: "database", Detail: err.Error()})
		} else {
			add(statusCheck{Name: "database", OK: true, Detail: cfg.State.Path})
		}
	}

	lockPath := lock.PathFor(cfg.State.Path)
	if l, err := lock.Acquire(lockPath); err == nil {
		_ = l.Release()
		add(statusCheck{Name: "lock", OK: true, Detail: "not running"})
	} else if errors.Is(err, lock.ErrLocked) {
		add(statusCheck{Name: "lock", OK: true, Detail: err.Error()})
	} else {
		add(statusCheck{Name: "lock", Detail: err.Error()})
	}

	if cfg.API.Enabled {
		add(checkAPIHealth("http://" + cfg.API.Listen))
	}
	return report
}

func checkAPIHealth(apiURL string) statusCheck {
	client := &http.Client{Timeout: 2 * time.Second}
	res, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return statusCheck{Name: "api", Detail: err.Error()}
	}
	defer res.Body.Close()

	var h api.HealthzResponse
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return statusCheck{Name: "api", Detail: fmt.Sprintf("decode healthz: %v", err)}
	}
	return statusCheck{
		Name: "api",
		OK:   h.Status == "ok",
		Detail: fmt.Sprintf("%s, queue %d, document %s, drained %t",
			h.Status, h.QueueDepth, h.ReadyState, h.Drained),
	}
}

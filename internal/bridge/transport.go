package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Logger is a transport that only writes each bridge URI to the log.
// Useful when no native host is attached.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Send(_ context.Context, cmd Command) error {
	l.logger.Info("bridge call", "command_id", cmd.ID, "command", cmd.Name, "uri", cmd.URI())
	return nil
}

// HTTP posts each command to a native host endpoint.
type HTTP struct {
	url    string
	client *http.Client
}

// httpPayload is the JSON body delivered to the native endpoint.
type httpPayload struct {
	ID      string   `json:"id"`
	URI     string   `json:"uri"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) Send(ctx context.Context, cmd Command) error {
	args := cmd.Args
	if args == nil {
		args = []string{}
	}
	body, err := json.Marshal(httpPayload{
		ID:      cmd.ID,
		URI:     cmd.URI(),
		Command: cmd.Name,
		Args:    args,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Recorder keeps every command it receives in memory.
type Recorder struct {
	mu   sync.Mutex
	cmds []Command
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, cmd Command) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
	return nil
}

// Commands returns a copy of everything received so far, oldest first.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.cmds))
	copy(out, r.cmds)
	return out
}

// URIs returns the rendered bridge URIs, oldest first.
func (r *Recorder) URIs() []string {
	cmds := r.Commands()
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.URI()
	}
	return out
}

// Len reports how many commands were received.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

package bridge

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks github.com/mattjoyce/gaphost/internal/bridge Bridge

// Scheme is the URI scheme the native side intercepts.
const Scheme = "gap"

var (
	ErrEmptyCommand   = errors.New("command name is empty")
	ErrInvalidCommand = errors.New("command name must not contain '/'")
	ErrInvalidURI     = errors.New("not a gap:// bridge URI")
)

// Command is one outbound, fire-and-forget call to the native layer.
type Command struct {
	ID         string    `json:"id"`
	Name       string    `json:"command"` // e.g. "Device.getUUID"
	Args       []string  `json:"args,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// URI renders the command as gap://<name>/<arg0>/<arg1>...
func (c Command) URI() string {
	return BuildURI(c.Name, c.Args...)
}

// Bridge delivers a command to the native host. There is no response
// channel: a nil error only means the transport accepted the call.
type Bridge interface {
	Send(ctx context.Context, cmd Command) error
}

// Func adapts a plain function to the Bridge interface.
type Func func(ctx context.Context, cmd Command) error

func (f Func) Send(ctx context.Context, cmd Command) error {
	return f(ctx, cmd)
}

// Available reports whether a host-provided device identifier is present.
// Callers evaluate it once at startup.
func Available(uuid string) bool {
	return uuid != ""
}

// ValidateName checks that name can be carried as the URI host segment.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyCommand
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return ErrInvalidCommand
		}
	}
	return nil
}

package device

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/gaphost/internal/bridge"
)

// Console forwards debug output to the native console.
type Console struct{ cmd Commander }

func NewConsole(c Commander) *Console { return &Console{cmd: c} }

// Log prints a message or a structured value.
func (c *Console) Log(message any) error {
	return forward(c.cmd, "DebugConsole.log", FormatMessage(message))
}

// Error prints an error-level message or structured value.
func (c *Console) Error(message any) error {
	return forward(c.cmd, "DebugConsole.error", FormatMessage(message))
}

// Alert opens a native dialog. Empty title and button fall back to
// "Alert" and "OK".
func (c *Console) Alert(message, title, buttonLabel string) error {
	if title == "" {
		title = "Alert"
	}
	if buttonLabel == "" {
		buttonLabel = "OK"
	}
	return forward(c.cmd, "DebugConsole.alert", message, title, buttonLabel)
}

func (c *Console) ActivityStart() error { return forward(c.cmd, "DebugConsole.activityStart") }
func (c *Console) ActivityStop() error { return forward(c.cmd, "DebugConsole.activityStop") }

// ProcessMessage renders message for the console and URI-encodes it.
func ProcessMessage(message any) string {
	return bridge.EncodeComponent(FormatMessage(message))
}

// FormatMessage renders scalars as-is and anything structured as an
// indented "Object:" dump, one "key = value" line per field.
func FormatMessage(message any) string {
	switch v := message.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case error:
		return v.Error()
	}

	tree, ok := toTree(message)
	if !ok {
		return scalarString(message)
	}
	return "Object:\n" + structured(tree)
}

// toTree normalizes message into maps and slices via JSON. It reports
// false for values that are not objects or arrays.
func toTree(message any) (any, bool) {
	if message == nil {
		return map[string]any{}, true
	}
	b, err := json.Marshal(message)
	if err != nil {
		return nil, false
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return nil, false
	}
	switch tree.(type) {
	case map[string]any, []any:
		return tree, true
	case nil:
		return map[string]any{}, true
	}
	return nil, false
}

func structured(obj any) string {
	var b strings.Builder
	for _, kv := range entries(obj) {
		switch kv.val.(type) {
		case map[string]any, []any, nil:
			b.WriteString(kv.key + ":\n" + indent(structured(kv.val)) + "\n")
		default:
			b.WriteString(kv.key + " = " + strings.ReplaceAll(scalarString(kv.val), "\n", "\n    ") + "\n")
		}
	}
	return b.String()
}

type entry struct {
	key string
	val any
}

func entries(obj any) []entry {
	switch o := obj.(type) {
	case map[string]any:
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]entry, len(keys))
		for i, k := range keys {
			out[i] = entry{key: k, val: o[k]}
		}
		return out
	case []any:
		out := make([]entry, len(o))
		for i, v := range o {
			out[i] = entry{key: strconv.Itoa(i), val: v}
		}
		return out
	}
	return nil
}

// indent prefixes every line, including the empty one after a trailing
// newline.
func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}

func scalarString(v any) string {
	switch x := v.(type) {
	case float64:
		if math.Abs(x) < 1e21 {
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

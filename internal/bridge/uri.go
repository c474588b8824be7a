package bridge

import (
	"fmt"
	"net/url"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// EncodeComponent percent-encodes s the way a browser's encodeURIComponent
// does: only A-Z a-z 0-9 and - _ . ! ~ * ' ( ) are left as-is, everything
// else is UTF-8 encoded and escaped byte by byte.
func EncodeComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// BuildURI joins a command name and its encoded arguments into a bridge URI.
// With no arguments the result still ends in a slash: gap://Device.getUUID/
func BuildURI(name string, args ...string) string {
	enc := make([]string, len(args))
	for i, a := range args {
		enc[i] = EncodeComponent(a)
	}
	return Scheme + "://" + name + "/" + strings.Join(enc, "/")
}

// ParseURI reverses BuildURI. A single empty trailing segment is read as
// "no arguments", so a lone empty-string argument does not round-trip.
func ParseURI(raw string) (name string, args []string, err error) {
	const prefix = Scheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return "", nil, ErrInvalidURI
	}
	rest := raw[len(prefix):]

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: missing path separator", ErrInvalidURI)
	}
	name = rest[:idx]
	if err := ValidateName(name); err != nil {
		return "", nil, err
	}

	path := rest[idx+1:]
	if path == "" {
		return name, nil, nil
	}
	parts := strings.Split(path, "/")
	args = make([]string, len(parts))
	for i, p := range parts {
		v, err := url.PathUnescape(p)
		if err != nil {
			return "", nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidURI, i, err)
		}
		args[i] = v
	}
	return name, args, nil
}

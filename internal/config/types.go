package config

import "time"

// Config represents the complete gaphost configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Queue     QueueConfig     `yaml:"queue"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Device    DeviceConfig    `yaml:"device"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
	Include   []string        `yaml:"include,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// QueueConfig tunes the command queue's dispatch timer.
type QueueConfig struct {
	Interval time.Duration `yaml:"interval"`
	// MaxPending caps queued commands. Zero means unbounded.
	MaxPending int `yaml:"max_pending"`
}

// BootstrapConfig sets the document state the host starts in.
type BootstrapConfig struct {
	ReadyState string `yaml:"ready_state"`
}

// DeviceConfig is the DeviceInfo the native side exposes. An empty UUID
// means no native bridge is present.
type DeviceConfig struct {
	UUID     string `yaml:"uuid"`
	Platform string `yaml:"platform"`
	Version  string `yaml:"version"`
	Gap      string `yaml:"gap"`
}

// BridgeConfig selects where gap:// URIs are delivered.
type BridgeConfig struct {
	Transport string        `yaml:"transport"` // log, http or journal
	URL       string        `yaml:"url,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	CORS    CORSConfig    `yaml:"cors"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a bearer token with every scope.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// CORSConfig lists the page origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ChecksumManifest is the on-disk .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Transport names.
const (
	TransportLog     = "log"
	TransportHTTP    = "http"
	TransportJournal = "journal"
)

// Defaults returns a Config with the values a bare install runs with.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "gaphost",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Queue: QueueConfig{
			Interval: 10 * time.Millisecond,
		},
		Bootstrap: BootstrapConfig{
			ReadyState: "loading",
		},
		Device: DeviceConfig{
			Platform: "Android",
		},
		Bridge: BridgeConfig{
			Transport: TransportLog,
			Timeout:   5 * time.Second,
		},
		State: StateConfig{
			Path: "./data/gaphost.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
	}
}

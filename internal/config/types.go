// Package config parses tcplb's configuration file: a small,
// line-oriented format (not YAML, not JSON) describing the listen
// address and the set of upstream hosts to balance across.
package config

// UpstreamHost is one <logical_host> entry: a single upstream server
// and how many pooled connections a worker should keep open to it.
type UpstreamHost struct {
	Name  string
	Port  int
	Conns int
}

// LoggingConfig controls the logger built by internal/logging.
type LoggingConfig struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
}

// AdminConfig controls the optional read-only observability API.
type AdminConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// Config is the fully parsed, validated configuration.
type Config struct {
	Listen string
	Hosts  []UpstreamHost

	// BufferSize is the per-direction relay buffer capacity, in bytes.
	BufferSize int
	// RecycleIntervalSeconds bounds each worker's epoll_wait timeout;
	// a zero-event wait of this length triggers a pool recycle sweep.
	RecycleIntervalSeconds int

	Logging LoggingConfig
	Admin   AdminConfig
}

func defaultConfig() *Config {
	return &Config{
		BufferSize:             4096,
		RecycleIntervalSeconds: 5,
		Logging:                LoggingConfig{Level: "INFO"},
		Admin:                  AdminConfig{Enabled: false, Host: "127.0.0.1", Port: 9090},
	}
}

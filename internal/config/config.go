// Package config loads tcplb's configuration file.
//
// The format is a small line-oriented grammar, not YAML or JSON:
//
//	Listen 0.0.0.0:9000
//	Admin 127.0.0.1:9090
//	<logical_host>
//	<name>10.0.0.1</name>
//	<port>8080</port>
//	<conns>10</conns>
//	</logical_host>
//
// One or more <logical_host> blocks follow the Listen line; each
// becomes one upstream host and, at runtime, one worker. The optional
// `Admin` line enables the read-only observability API and binds it to
// the given address; without it, the admin API stays off.
package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

const (
	minHosts = 1
	maxHosts = 16
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func parse(r io.Reader) (*Config, error) {
	cfg := defaultConfig()

	scanner := bufio.NewScanner(r)
	var inHost bool
	var cur UpstreamHost
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "Listen "):
			cfg.Listen = strings.TrimSpace(strings.TrimPrefix(line, "Listen "))

		case strings.HasPrefix(line, "Admin "):
			addr := strings.TrimSpace(strings.TrimPrefix(line, "Admin "))
			host, portStr, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid Admin address %q: %w", lineNo, addr, err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid Admin port %q: %w", lineNo, portStr, err)
			}
			cfg.Admin.Enabled = true
			cfg.Admin.Host = host
			cfg.Admin.Port = port

		case line == "<logical_host>":
			if inHost {
				return nil, fmt.Errorf("line %d: nested <logical_host>", lineNo)
			}
			inHost = true
			cur = UpstreamHost{}

		case line == "</logical_host>":
			if !inHost {
				return nil, fmt.Errorf("line %d: </logical_host> without opening tag", lineNo)
			}
			cfg.Hosts = append(cfg.Hosts, cur)
			inHost = false

		case inHost && hasTag(line, "name"):
			cur.Name = tagValue(line, "name")

		case inHost && hasTag(line, "port"):
			v, err := strconv.Atoi(tagValue(line, "port"))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid <port>: %w", lineNo, err)
			}
			cur.Port = v

		case inHost && hasTag(line, "conns"):
			v, err := strconv.Atoi(tagValue(line, "conns"))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid <conns>: %w", lineNo, err)
			}
			cur.Conns = v

		default:
			// Unknown lines are ignored, not rejected: this keeps the
			// grammar forward-compatible with tags a future version adds.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if inHost {
		return nil, fmt.Errorf("unterminated <logical_host> block")
	}

	return cfg, nil
}

func hasTag(line, tag string) bool {
	return strings.HasPrefix(line, "<"+tag+">")
}

// tagValue extracts the text between <tag> and </tag>. It does no
// escaping; values are plain hostnames and integers.
func tagValue(line, tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	v := strings.TrimPrefix(line, open)
	v = strings.TrimSuffix(v, closeTag)
	return strings.TrimSpace(v)
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("missing Listen directive")
	}
	if len(cfg.Hosts) < minHosts || len(cfg.Hosts) > maxHosts {
		return fmt.Errorf("expected between %d and %d <logical_host> blocks, got %d", minHosts, maxHosts, len(cfg.Hosts))
	}
	for i, h := range cfg.Hosts {
		if h.Name == "" {
			return fmt.Errorf("logical_host[%d]: missing <name>", i)
		}
		if h.Port <= 0 || h.Port > 65535 {
			return fmt.Errorf("logical_host[%d]: invalid <port> %d", i, h.Port)
		}
		if h.Conns <= 0 {
			return fmt.Errorf("logical_host[%d]: <conns> must be positive, got %d", i, h.Conns)
		}
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if cfg.Admin.Enabled && (cfg.Admin.Port <= 0 || cfg.Admin.Port > 65535) {
		return fmt.Errorf("invalid Admin port %d", cfg.Admin.Port)
	}
	return nil
}

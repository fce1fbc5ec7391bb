package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kauaDaviAmaro/RealEstate-Scraping-Core/internal/config"
)

// Load gathers proxy specs from the configured JSON file (when set) followed
// by PROXY_n environment entries, in that order.
func Load(cfg config.ProxyConfig) ([]Spec, error) {
	var specs []Spec
	if cfg.File != "" {
		fromFile, err := FromFile(cfg.File)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fromFile...)
	}
	specs = append(specs, FromEnv()...)
	return specs, nil
}

// FromEnv collects PROXY_1, PROXY_2, ... entries until the first gap.
// Each entry uses the host:port[:user[:pass[:type[:protocol]]]] format.
func FromEnv() []Spec {
	var specs []Spec
	for i := 1; i <= 100; i++ {
		raw := os.Getenv(fmt.Sprintf("PROXY_%d", i))
		if strings.TrimSpace(raw) == "" {
			break
		}
		spec, err := ParseEnvEntry(raw)
		if err != nil {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// ParseEnvEntry parses a single colon-delimited proxy declaration.
func ParseEnvEntry(raw string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return Spec{}, fmt.Errorf("proxy entry %q needs at least host:port", raw)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Spec{}, fmt.Errorf("proxy entry %q has invalid port: %w", raw, err)
	}
	spec := Spec{Host: strings.TrimSpace(parts[0]), Port: port}
	if len(parts) > 2 {
		spec.Username = parts[2]
	}
	if len(parts) > 3 {
		spec.Password = parts[3]
	}
	if len(parts) > 4 {
		spec.Type = parts[4]
	}
	if len(parts) > 5 {
		spec.Protocol = parts[5]
	}
	return spec, nil
}

type fileSpec struct {
	Host     string    `json:"host"`
	Port     flexiPort `json:"port"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Type     string    `json:"type"`
	Protocol string    `json:"protocol"`
}

// flexiPort accepts both numeric and string port values, both of which
// appear in proxy provider exports.
type flexiPort int

func (p *flexiPort) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	if trimmed == "" || trimmed == "null" {
		*p = 0
		return nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", string(data), err)
	}
	*p = flexiPort(value)
	return nil
}

// FromFile reads proxy specs from a JSON file holding either a bare array
// of entries or an object with a "proxies" array.
func FromFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}

	var entries []fileSpec
	if err := json.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Proxies []fileSpec `json:"proxies"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse proxy file %s: %w", path, err)
		}
		entries = wrapped.Proxies
	}

	specs := make([]Spec, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Host) == "" || entry.Port == 0 {
			continue
		}
		specs = append(specs, Spec{
			Host:     entry.Host,
			Port:     int(entry.Port),
			Username: entry.Username,
			Password: entry.Password,
			Type:     entry.Type,
			Protocol: entry.Protocol,
		})
	}
	return specs, nil
}

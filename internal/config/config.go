// Package config loads the model→upstream routing table from a YAML file and
// keeps it fresh via an mtime+TTL gated, atomically published snapshot.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Upstream is an immutable mapping from one model id to the backend that
// serves it.
type Upstream struct {
	Model   string
	BaseURL string
	APIKey  string
}

// fileConfig mirrors the on-disk YAML shape.
type fileConfig struct {
	Models []fileUpstream `yaml:"models"`
}

type fileUpstream struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// parse validates and converts the raw file shape into a model→Upstream map.
// A model name repeated across entries is a hard validation error.
func parse(fc *fileConfig) (map[string]Upstream, error) {
	out := make(map[string]Upstream, len(fc.Models))
	for _, item := range fc.Models {
		model := strings.TrimSpace(item.Model)
		base := strings.TrimSpace(item.BaseURL)
		base = strings.TrimRight(base, "/")
		key := strings.TrimSpace(item.APIKey)

		if model == "" || base == "" {
			continue
		}
		if err := validateBaseURL(base); err != nil {
			return nil, fmt.Errorf("model %q: %w", model, err)
		}
		if _, exists := out[model]; exists {
			return nil, fmt.Errorf("duplicate model in config: %s", model)
		}
		out[model] = Upstream{Model: model, BaseURL: base, APIKey: key}
	}
	return out, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must be http(s), got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url missing host: %q", raw)
	}
	return nil
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loadAndMerge decodes a YAML file over cfg. Keys absent from the file keep
// their current values; unknown keys are an error.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return strings.TrimSpace(home)
}

// loadConfigEnvVars reads KEY=value lines from ~/.intest/config.env.
func loadConfigEnvVars() map[string]string {
	home := userHome()
	if home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ConfigDirName, "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home := userHome(); home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home := userHome(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

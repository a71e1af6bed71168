package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvironmentValues returns the merged environment Load reads from: the .env file, then
// the process environment, then WithEnvMap, later sources winning. main uses it to build
// the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	return newLoaderOptions(opts).values()
}

func (o loaderOptions) values() (map[string]string, error) {
	values, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range o.envMap {
		values[key] = value
	}
	return values, nil
}

// readDotEnv parses KEY=VALUE lines, tolerating "export " prefixes, comments and quotes.
// A missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// env reads typed settings from the merged values. Unparseable entries are remembered
// under their config field name and reported by validate.
type env struct {
	values  map[string]string
	invalid []string
}

func (e *env) str(key, fallback string) string {
	if value := strings.TrimSpace(e.values[key]); value != "" {
		return value
	}
	return fallback
}

func (e *env) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

func (e *env) duration(field, key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return d
}

func (e *env) integer(field, key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.invalid = append(e.invalid, field)
		return fallback
	}
	return n
}

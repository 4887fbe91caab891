// Package config handles compiler configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"semantic-compiler/internal/dataflow/optimizer"
	"semantic-compiler/internal/domain"
	"semantic-compiler/internal/sqlgen"
)

// Config holds the settings of the query compiler.
type Config struct {
	LogLevel     string // log level: debug, info, warn, error (default "info")
	ManifestPath string // manifest YAML file or directory of YAML files

	SQLEngine         domain.SQLEngine         // target warehouse (default duckdb)
	OptimizationLevel sqlgen.OptimizationLevel // SQL optimization level (default O5)

	// DataflowOptimizations run in order between plan building and SQL
	// generation. "none" disables them.
	DataflowOptimizations []optimizer.OptimizationKind

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger writing to w at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.SlogLevel()}))
}

// LoadFromEnv loads configuration from environment variables. Malformed
// engine, level or optimization names are errors.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:              os.Getenv("LOG_LEVEL"),
		ManifestPath:          os.Getenv("MANIFEST_PATH"),
		SQLEngine:             domain.EngineDuckDB,
		OptimizationLevel:     sqlgen.DefaultOptimizationLevel,
		DataflowOptimizations: append([]optimizer.OptimizationKind(nil), optimizer.DefaultOptimizations...),
	}

	if v := os.Getenv("SQL_ENGINE"); v != "" {
		engine, err := domain.ParseSQLEngine(v)
		if err != nil {
			return nil, fmt.Errorf("SQL_ENGINE: %w", err)
		}
		cfg.SQLEngine = engine
	}
	if v := os.Getenv("SQL_OPTIMIZATION_LEVEL"); v != "" {
		level, err := sqlgen.ParseOptimizationLevel(v)
		if err != nil {
			return nil, fmt.Errorf("SQL_OPTIMIZATION_LEVEL: %w", err)
		}
		cfg.OptimizationLevel = level
	}
	if v := strings.TrimSpace(os.Getenv("DATAFLOW_OPTIMIZATIONS")); v != "" {
		kinds, err := parseOptimizations(v)
		if err != nil {
			return nil, fmt.Errorf("DATAFLOW_OPTIMIZATIONS: %w", err)
		}
		cfg.DataflowOptimizations = kinds
	}

	// Defaults
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ManifestPath == "" {
		cfg.Warnings = append(cfg.Warnings, "MANIFEST_PATH not set; a manifest must be supplied by the caller")
	}
	if cfg.OptimizationLevel == sqlgen.O0 {
		cfg.Warnings = append(cfg.Warnings, "SQL_OPTIMIZATION_LEVEL=O0 disables every SQL optimizer and is not retried on failure")
	}

	return cfg, nil
}

func parseOptimizations(v string) ([]optimizer.OptimizationKind, error) {
	if strings.EqualFold(v, "none") {
		return []optimizer.OptimizationKind{}, nil
	}
	var kinds []optimizer.OptimizationKind
	for _, name := range compactNonEmpty(strings.Split(v, ",")) {
		kind, err := optimizer.ParseOptimizationKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

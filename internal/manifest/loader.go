// Package manifest loads semantic manifests from YAML and indexes them for the
// query compiler.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"semantic-compiler/internal/domain"
)

// LoadOptions configures YAML loading behavior.
type LoadOptions struct {
	AllowUnknownFields bool
}

// Load decodes one YAML manifest document.
func Load(r io.Reader) (*domain.SemanticManifest, error) {
	return LoadWithOptions(r, LoadOptions{})
}

// LoadWithOptions decodes one YAML manifest document using caller-provided options.
func LoadWithOptions(r io.Reader, opts LoadOptions) (*domain.SemanticManifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return decode(data, opts)
}

// LoadFile reads and decodes a YAML manifest file.
func LoadFile(path string) (*domain.SemanticManifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // intentional: reading user-specified manifest files
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m, err := decode(data, LoadOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// LoadDirectory reads every *.yaml / *.yml file in dir and merges them into one
// manifest. Files are decoded concurrently and merged in file-name order.
func LoadDirectory(dir string) (*domain.SemanticManifest, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("manifest directory: %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	parts := make([]*domain.SemanticManifest, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		g.Go(func() error {
			m, err := LoadFile(path)
			if err != nil {
				return err
			}
			parts[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &domain.SemanticManifest{}
	for _, m := range parts {
		merged.SemanticModels = append(merged.SemanticModels, m.SemanticModels...)
		merged.Metrics = append(merged.Metrics, m.Metrics...)
		merged.TimeSpines = append(merged.TimeSpines, m.TimeSpines...)
	}
	return merged, nil
}

func decode(data []byte, opts LoadOptions) (*domain.SemanticManifest, error) {
	var m domain.SemanticManifest
	if opts.AllowUnknownFields {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &m, nil
}

// Package testutil provides manifest and warehouse fixtures shared by tests
// across the codebase, in the manner of net/http/httptest.
package testutil

import (
	"bytes"
	_ "embed"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"semantic-compiler/internal/manifest"
)

//go:embed testdata/simple_manifest.yaml
var simpleManifestYAML []byte

// SimpleManifestYAML returns a reader over the bookings/revenue/listings fixture.
func SimpleManifestYAML() io.Reader {
	return bytes.NewReader(simpleManifestYAML)
}

// SimpleManifestLookup loads and indexes the bookings/revenue/listings fixture.
func SimpleManifestLookup(t testing.TB) *manifest.Lookup {
	t.Helper()
	m, err := manifest.Load(SimpleManifestYAML())
	require.NoError(t, err)
	lookup, err := manifest.NewLookup(*m)
	require.NoError(t, err)
	return lookup
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersInstruments(t *testing.T) {
	m := New("test")

	m.Runs.WithLabelValues(OutcomeMapped).Inc()
	m.Runs.WithLabelValues(OutcomeMapped).Inc()
	m.FramesSkipped.WithLabelValues("NEEDS_EXTENSION").Add(3)
	m.CodeMappings.WithLabelValues(ResultCreated).Inc()
	m.RunDuration.Observe(0.2)
	m.ResolverPasses.Observe(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeMapped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesSkipped.WithLabelValues("NEEDS_EXTENSION")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"test_derivation_runs_total",
		"test_frames_skipped_total",
		"test_code_mappings_total",
		"test_derivation_duration_seconds",
		"test_resolver_passes",
	}, names)
}

func TestNew_DefaultNamespace(t *testing.T) {
	m := New("")
	m.Runs.WithLabelValues(OutcomeError).Inc()

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	assert.True(t, strings.HasPrefix(families[0].GetName(), "codemap_"))
}

func TestWriteTextfile(t *testing.T) {
	m := New("codemap")
	m.CodeMappings.WithLabelValues(ResultUpdated).Inc()

	path := filepath.Join(t.TempDir(), "codemap.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `codemap_code_mappings_total{result="updated"} 1`)
}

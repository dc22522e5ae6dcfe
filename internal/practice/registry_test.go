package practice

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhealth/dentalbridge/internal/scheduling"
	"github.com/kestrelhealth/dentalbridge/pkg/logging"
)

func TestParseDirectory(t *testing.T) {
	raw := `{
		"smiles-dsm": {"devKey": "dev1", "custKey": "cust1", "timezone": "America/Chicago", "clinicId": 2},
		"northside": {"devKey": "dev2", "custKey": "cust2", "timezone": "America/New_York"}
	}`
	entries, err := ParseDirectory(raw)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dev1", entries["smiles-dsm"].DevKey)
	assert.Equal(t, int64(2), entries["smiles-dsm"].ClinicID)
	assert.Equal(t, "America/New_York", entries["northside"].Timezone)
}

func TestParseDirectoryRejectsMissingCredentials(t *testing.T) {
	_, err := ParseDirectory(`{"smiles-dsm": {"devKey": "dev1"}}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smiles-dsm")

	_, err = ParseDirectory("")
	require.Error(t, err)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		Entries: map[string]Entry{
			"smiles-dsm": {DevKey: "dev1", CustKey: "cust1", Timezone: "America/Chicago"},
			"northside":  {DevKey: "dev2", CustKey: "cust2"},
		},
		BaseURL:     "https://api.example.com/v1",
		MinInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestRuntimeIsBuiltOncePerPractice(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Runtime("smiles-dsm")
	require.NoError(t, err)
	second, err := r.Runtime("smiles-dsm")
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := r.Runtime("northside")
	require.NoError(t, err)
	assert.NotSame(t, first, other, "each practice gets its own stack")
}

func TestRuntimeUsesPracticeTimezone(t *testing.T) {
	r := newTestRegistry(t)

	rt, err := r.Runtime("smiles-dsm")
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", rt.Location().String())
	assert.Equal(t, "opendental", rt.Name())

	// No timezone configured falls back to UTC.
	other, err := r.Runtime("northside")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, other.Location())
}

func TestRuntimeUnknownPractice(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Runtime("nowhere")
	assert.ErrorIs(t, err, ErrUnknownPractice)
}

func TestRuntimeLogsCarrySingleComponentTag(t *testing.T) {
	var buf bytes.Buffer
	logger := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	r, err := NewRegistry(RegistryConfig{
		Entries: map[string]Entry{"smiles-dsm": {DevKey: "d", CustKey: "c"}},
		BaseURL: "https://api.example.com/v1",
		Logger:  logger,
	})
	require.NoError(t, err)

	rt, err := r.Runtime("smiles-dsm")
	require.NoError(t, err)

	// A rejected task makes the dispatcher log without any remote traffic.
	buf.Reset()
	_, _ = rt.Dispatch(context.Background(), scheduling.CancelTask{TaskID: uuid.New(), Practice: "smiles-dsm"})

	out := strings.TrimSpace(buf.String())
	require.NotEmpty(t, out, "the dispatcher should have logged the terminal state")
	for _, line := range strings.Split(out, "\n") {
		assert.Equal(t, 1, strings.Count(line, `"component"`), "line: %s", line)
	}
}

func TestRegistryRequiresBaseURL(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{
		Entries: map[string]Entry{"smiles-dsm": {DevKey: "d", CustKey: "c"}},
	})
	require.Error(t, err)

	// A per-practice override satisfies the requirement.
	_, err = NewRegistry(RegistryConfig{
		Entries: map[string]Entry{
			"smiles-dsm": {DevKey: "d", CustKey: "c", BaseURL: "https://other.example.com"},
		},
	})
	require.NoError(t, err)
}

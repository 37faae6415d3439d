package trace_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlplane/kernel/trace"
)

func TestAppendGetRoundTrip(t *testing.T) {
	tr := trace.New()
	id, err := tr.Log("stance_change", map[string]any{"from": "Sensemaking", "to": "Discovery"}, "", nil)
	require.NoError(t, err)

	got, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, "stance_change", got.Type)
	assert.Equal(t, "Discovery", got.Payload["to"])
}

func TestQueryOrdersMostRecentFirstAndRespectsLimit(t *testing.T) {
	tr := trace.New()
	for i := 0; i < 5; i++ {
		_, err := tr.Log("gate_attempt", map[string]any{"n": i}, "", nil)
		require.NoError(t, err)
	}
	recent := tr.GetRecent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Payload["n"])
	assert.Equal(t, 3, recent[1].Payload["n"])
}

func TestSinceFiltersByTimestamp(t *testing.T) {
	tr := trace.New()
	_, err := tr.Append(trace.Event{Type: "old", Timestamp: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	cutoff := time.Now().Add(-time.Minute)
	_, err = tr.Append(trace.Event{Type: "new", Timestamp: time.Now()})
	require.NoError(t, err)

	recent := tr.Since(cutoff)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].Type)
}

func TestLoadReplaysPersistedRecords(t *testing.T) {
	var buf bytes.Buffer
	tr := trace.New(trace.WithWriter(&buf))
	id, err := tr.Log("write_completed", map[string]any{"tier": "shared"}, "p1", nil)
	require.NoError(t, err)

	loaded, err := trace.Load(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	got, ok := loaded.Get(id)
	require.True(t, ok)
	assert.Equal(t, "write_completed", got.Type)
	assert.Equal(t, "p1", got.ProblemID)
}

func TestQueryFilterByTypeAndProblem(t *testing.T) {
	tr := trace.New()
	_, _ = tr.Log("write_completed", nil, "p1", nil)
	_, _ = tr.Log("write_denied", nil, "p1", nil)
	_, _ = tr.Log("write_completed", nil, "p2", nil)

	matches := tr.Query(trace.QueryFilter{Type: "write_completed", ProblemID: "p1"})
	require.Len(t, matches, 1)
}

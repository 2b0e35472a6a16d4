package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()
	tr.Start("a", "https://a.example")
	tr.Update("a", PhaseAnalyzing, "cart")
	tr.Update("missing", PhaseDone, "")

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, PhaseAnalyzing, snap[0].Phase)
	assert.Equal(t, "cart", snap[0].Step)

	tr.Update("a", PhaseDone, "")
	assert.Equal(t, "cart", tr.Snapshot()[0].Step)
}

func TestTrackerEvictsFinished(t *testing.T) {
	tr := NewTracker()
	tr.keep = 2
	tr.Start("a", "x")
	tr.Update("a", PhaseDone, "")
	tr.Start("b", "x")
	tr.Start("c", "x")

	ids := map[string]bool{}
	for _, s := range tr.Snapshot() {
		ids[s.ID] = true
	}
	assert.Equal(t, map[string]bool{"b": true, "c": true}, ids)
}

func TestLogExchangeWritesTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "reasoning.jsonl")
	l := NewNopLogger()
	l.transcriptPath = path
	l.maxSize = 1 << 20

	l.LogExchange(EventTypeCommentary, "s1", Exchange{Provider: "fake", Response: "ok"})
	l.LogExchange(EventTypeReport, "s1", Exchange{Provider: "fake", Truncated: true})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var kinds []EventType
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		assert.Equal(t, "s1", ev.SessionID)
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []EventType{EventTypeCommentary, EventTypeReport}, kinds)
}

func TestLogExchangeRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reasoning.jsonl")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))

	l := NewNopLogger()
	l.transcriptPath = path
	l.maxSize = 16
	l.LogExchange(EventTypeReport, "", Exchange{})

	_, err := os.Stat(path + ".old")
	assert.NoError(t, err)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Zap().Info("x")
		l.LogExchange(EventTypeReport, "", Exchange{})
	})
}

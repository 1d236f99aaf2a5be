package arbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsToNoOpLoggerAndNoMetrics(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Destroy()

	assert.IsType(t, NoOpLogger{}, loop.Logger())
	assert.Nil(t, loop.Metrics())
}

func TestWithMetrics_EnablesSnapshot(t *testing.T) {
	loop, err := New(WithMetrics(true))
	require.NoError(t, err)
	defer loop.Destroy()

	m := loop.Metrics()
	require.NotNil(t, m)

	m.RecordQueueDepth(3)
	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.TimersFired)
}

type recordingLogger struct {
	entries []LogEntry
}

func (r *recordingLogger) Log(e LogEntry)          { r.entries = append(r.entries, e) }
func (r *recordingLogger) IsEnabled(LogLevel) bool { return true }

func TestWithLogger_ReceivesEntries(t *testing.T) {
	logger := &recordingLogger{}
	loop, err := New(WithLogger(logger))
	require.NoError(t, err)
	defer loop.Destroy()

	loop.logf(LevelError, "poll", "poller error: %v", assert.AnError)

	require.Len(t, logger.entries, 1)
	assert.Equal(t, "poll", logger.entries[0].Category)
	assert.Equal(t, LevelError, logger.entries[0].Level)
}

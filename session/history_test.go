package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRollingWindow(t *testing.T) {
	s := New()
	for i := 0; i < HistoryLimit+10; i++ {
		s.AppendHistory("user", fmt.Sprintf("message %d", i))
	}

	history := s.History()
	require.Len(t, history, HistoryLimit)

	// Oldest entries evicted, newest retained in order.
	assert.Equal(t, "message 10", history[0].Content)
	assert.Equal(t, fmt.Sprintf("message %d", HistoryLimit+9), history[HistoryLimit-1].Content)
}

func TestHistoryEntriesCarryTimestamps(t *testing.T) {
	s := New()
	s.AppendHistory("assistant", "hello")

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, "assistant", history[0].Role)
	assert.False(t, history[0].Timestamp.IsZero())
}

func TestConcurrentHistoryAppends(t *testing.T) {
	s := New()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendHistory("user", fmt.Sprintf("concurrent %d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, s.HistoryLen(), "no appends lost")
	for _, entry := range s.History() {
		assert.Equal(t, "user", entry.Role)
		assert.NotEmpty(t, entry.Content)
	}
}

func TestLogs(t *testing.T) {
	s := New()
	s.Log("info", "detect", "format detected")
	s.Log("error", "convert", "conversion failed")

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "detect", logs[0].Stage)
	assert.Equal(t, "error", logs[1].Level)
}

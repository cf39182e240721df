package session

import "time"

// AppendHistory records one conversation turn. The history is a rolling
// window of HistoryLimit entries; the oldest entry is evicted on overflow.
func (s *State) AppendHistory(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.history) > HistoryLimit {
		s.history = s.history[len(s.history)-HistoryLimit:]
	}
}

// History returns a copy of the conversation history, oldest first.
func (s *State) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

// HistoryLen returns the current history length.
func (s *State) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Log appends a structured diagnostic entry to the session log.
func (s *State) Log(level, stage, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogEntry{
		Time:    time.Now(),
		Level:   level,
		Stage:   stage,
		Message: message,
	})
}

// Logs returns a copy of the session log.
func (s *State) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.logs...)
}

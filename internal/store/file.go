package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"lockerline/internal/domain"
)

// FileStore keeps the log as a JSONL file, one event per line. The dedup
// index lives in memory and is rebuilt from the file on open.
type FileStore struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
}

// OpenFile opens (or creates) the log at path and rebuilds the dedup index.
// A partially written trailing record, left by a crash mid-append, is
// truncated away so the next append starts on a clean line.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, seen: make(map[string]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if trimmed, ok := dropTruncatedTail(data); ok {
		if err := os.WriteFile(path, trimmed, 0o644); err != nil {
			return nil, fmt.Errorf("truncate partial record: %w", err)
		}
		data = trimmed
	}
	events, err := decodeLines(data)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s.seen[ev.EventID] = struct{}{}
	}
	return s, nil
}

// Path returns the log file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(_ context.Context, ev domain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[ev.EventID]; ok {
		return false, nil
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return false, fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return false, fmt.Errorf("append event: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close event log: %w", err)
	}
	// Only index the ID once the record is durably written.
	s.seen[ev.EventID] = struct{}{}
	return true, nil
}

func (s *FileStore) LoadAll(_ context.Context) ([]domain.Event, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if trimmed, ok := dropTruncatedTail(data); ok {
		data = trimmed
	}
	return decodeLines(data)
}

func (s *FileStore) LoadByLocker(ctx context.Context, lockerID string) ([]domain.Event, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var res []domain.Event
	for _, ev := range all {
		if ev.LockerID == lockerID {
			res = append(res, ev)
		}
	}
	return res, nil
}

// dropTruncatedTail removes an unterminated final record, returning the
// trimmed log and whether anything was dropped.
func dropTruncatedTail(data []byte) ([]byte, bool) {
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return data, false
	}
	idx := bytes.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil, true
	}
	return data[:idx+1], true
}

func decodeLines(data []byte) ([]domain.Event, error) {
	var events []domain.Event
	for i, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event log record %d: %w", i+1, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

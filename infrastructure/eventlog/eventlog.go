// Package eventlog provides the append-only usage event log the learning
// loop mines training triplets from: one JSON object per line, append
// always, never rewrite.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the usage events a query surface records.
type EventKind string

const (
	// KindSearch records a query and its ranked result chunk ids.
	KindSearch EventKind = "search"
	// KindClick records a click-through on one result.
	KindClick EventKind = "click"
	// KindExpand records the user expanding a result.
	KindExpand EventKind = "expand"
	// KindHelpful records explicit positive feedback on a result.
	KindHelpful EventKind = "helpful"
	// KindUnhelpful records explicit negative feedback on a result.
	KindUnhelpful EventKind = "unhelpful"
)

// Event is one usage log row. Feedback events reference the originating
// search via QueryEventID and name the chunk they apply to.
type Event struct {
	EventID      string    `json:"event_id"`
	Kind         EventKind `json:"kind"`
	At           time.Time `json:"at"`
	CorpusID     string    `json:"corpus_id,omitempty"`
	Query        string    `json:"query,omitempty"`
	ResultChunks []string  `json:"result_chunks,omitempty"`
	QueryEventID string    `json:"query_event_id,omitempty"`
	ChunkID      string    `json:"chunk_id,omitempty"`
}

// NewSearchEvent records a query and its ranked results.
func NewSearchEvent(corpusID, query string, resultChunks []string) Event {
	results := make([]string, len(resultChunks))
	copy(results, resultChunks)
	return Event{
		EventID:      uuid.NewString(),
		Kind:         KindSearch,
		At:           time.Now().UTC(),
		CorpusID:     corpusID,
		Query:        query,
		ResultChunks: results,
	}
}

// NewFeedbackEvent records feedback of the given kind on one result of a
// prior search.
func NewFeedbackEvent(kind EventKind, queryEventID, chunkID string) Event {
	return Event{
		EventID:      uuid.NewString(),
		Kind:         kind,
		At:           time.Now().UTC(),
		QueryEventID: queryEventID,
		ChunkID:      chunkID,
	}
}

// Log is a durable append-only JSON-lines event log. Appends are
// serialized; reads scan the file without blocking writers beyond the
// per-append critical section.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open creates a Log at path, creating parent directories as needed.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	return &Log{path: path}, nil
}

// Append writes one event.
func (l *Log) Append(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadSince returns events at or after since, oldest first. A zero since
// reads the whole log. Malformed lines are skipped, not fatal — the log
// outlives crashes mid-append.
func (l *Log) ReadSince(ctx context.Context, since time.Time) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if !since.IsZero() && e.At.Before(since) {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// Package handler provides the shared contracts and payload helpers for
// task handlers processing queued operations.
package handler

import (
	"context"
	"fmt"

	"github.com/tribridrag/tribridrag/domain/task"
)

// Tracker provides progress tracking for task execution.
type Tracker interface {
	SetTotal(ctx context.Context, total int)
	SetCurrent(ctx context.Context, current int, message string)
	Skip(ctx context.Context, message string)
	Fail(ctx context.Context, message string)
	Complete(ctx context.Context)
}

// TrackerFactory creates trackers for progress reporting.
type TrackerFactory interface {
	ForOperation(operation task.Operation, trackableType task.TrackableType, trackableKey string) Tracker
}

// Handler defines the interface for task operation handlers.
type Handler interface {
	Execute(ctx context.Context, payload map[string]any) error
}

// ExtractInt64 extracts an int64 value from the payload.
func ExtractInt64(payload map[string]any, key string) (int64, error) {
	val, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing required field: %s", key)
	}

	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("invalid type for %s: %T", key, val)
	}
}

// ExtractString extracts a string value from the payload.
func ExtractString(payload map[string]any, key string) (string, error) {
	val, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("missing required field: %s", key)
	}

	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("invalid type for %s: expected string, got %T", key, val)
	}

	return s, nil
}

// CorpusPayload holds the common corpus_id and root fields extracted
// from build task payloads.
type CorpusPayload struct {
	corpusID string
	root     string
	force    bool
}

// CorpusID returns the corpus identifier.
func (p CorpusPayload) CorpusID() string { return p.corpusID }

// Root returns the corpus root path.
func (p CorpusPayload) Root() string { return p.root }

// Force reports whether a full rebuild was requested.
func (p CorpusPayload) Force() bool { return p.force }

// ExtractCorpusPayload extracts the common corpus_id and root fields
// from a build task payload. force is optional and defaults to false.
func ExtractCorpusPayload(payload map[string]any) (CorpusPayload, error) {
	corpusID, err := ExtractString(payload, "corpus_id")
	if err != nil {
		return CorpusPayload{}, err
	}
	root, err := ExtractString(payload, "root")
	if err != nil {
		return CorpusPayload{}, err
	}
	force, _ := payload["force"].(bool)
	return CorpusPayload{corpusID: corpusID, root: root, force: force}, nil
}

// ShortID returns the first 8 characters of a content-addressed id for
// display purposes.
func ShortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

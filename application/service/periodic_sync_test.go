package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/tribridrag/tribridrag/domain/manifest"
	"github.com/tribridrag/tribridrag/domain/queryopt"
	"github.com/tribridrag/tribridrag/domain/task"
	"github.com/tribridrag/tribridrag/infrastructure/persistence"
	"github.com/tribridrag/tribridrag/internal/config"
)

// memTaskStore is a minimal in-memory task.TaskStore for sync tests.
type memTaskStore struct {
	tasks []task.Task
}

func (s *memTaskStore) Save(_ context.Context, t task.Task) (task.Task, error) {
	for _, existing := range s.tasks {
		if existing.DedupKey() == t.DedupKey() {
			return existing, nil
		}
	}
	t = t.WithID(int64(len(s.tasks) + 1))
	s.tasks = append(s.tasks, t)
	return t, nil
}

func (s *memTaskStore) Dequeue(context.Context) (task.Task, bool, error) {
	if len(s.tasks) == 0 {
		return task.Task{}, false, nil
	}
	return s.tasks[0], true, nil
}

func (s *memTaskStore) Delete(_ context.Context, t task.Task) error {
	kept := s.tasks[:0]
	for _, existing := range s.tasks {
		if existing.ID() != t.ID() {
			kept = append(kept, existing)
		}
	}
	s.tasks = kept
	return nil
}

func (s *memTaskStore) Get(_ context.Context, id int64) (task.Task, error) {
	for _, t := range s.tasks {
		if t.ID() == id {
			return t, nil
		}
	}
	return task.Task{}, nil
}

func (s *memTaskStore) FindPending(context.Context, ...queryopt.Option) ([]task.Task, error) {
	return append([]task.Task{}, s.tasks...), nil
}

func (s *memTaskStore) FindAll(context.Context) ([]task.Task, error) {
	return append([]task.Task{}, s.tasks...), nil
}

func (s *memTaskStore) CountPending(context.Context) (int64, error) {
	return int64(len(s.tasks)), nil
}

func TestSyncOnce_EnqueuesCompleteCorpora(t *testing.T) {
	manifests, err := persistence.NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	complete := manifest.New("fresh", "test", "m", 4, "porter", manifest.ChunkerSettings{}).
		WithRoot("/src/fresh").
		WithComplete(time.Now())
	if err := manifests.Put(ctx, complete); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A corpus mid-error must not re-queue automatically.
	failed := manifest.New("broken", "test", "m", 4, "porter", manifest.ChunkerSettings{}).
		WithRoot("/src/broken").
		WithError("embedder exploded")
	if err := manifests.Put(ctx, failed); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// A corpus without a recorded root cannot be rebuilt unattended.
	rootless := manifest.New("rootless", "test", "m", 4, "porter", manifest.ChunkerSettings{}).
		WithComplete(time.Now())
	if err := manifests.Put(ctx, rootless); err != nil {
		t.Fatalf("Put: %v", err)
	}

	store := &memTaskStore{}
	sync := NewPeriodicSync(manifests, NewQueue(store, slog.Default()), config.NewPeriodicSyncConfig(), nil)

	if err := sync.SyncOnce(ctx); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}
	if len(store.tasks) != 1 {
		t.Fatalf("queued %d tasks, want 1: %+v", len(store.tasks), store.tasks)
	}
	queued := store.tasks[0]
	if queued.Operation() != task.OperationBuildCorpus {
		t.Errorf("operation = %s", queued.Operation())
	}
	payload := queued.Payload()
	if payload["corpus_id"] != "fresh" || payload["root"] != "/src/fresh" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSyncOnce_DedupsRepeatPasses(t *testing.T) {
	manifests, err := persistence.NewManifestStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewManifestStore: %v", err)
	}
	ctx := context.Background()

	m := manifest.New("corpus1", "test", "m", 4, "porter", manifest.ChunkerSettings{}).
		WithRoot("/src").
		WithComplete(time.Now())
	if err := manifests.Put(ctx, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	store := &memTaskStore{}
	sync := NewPeriodicSync(manifests, NewQueue(store, slog.Default()), config.NewPeriodicSyncConfig(), nil)

	for i := 0; i < 3; i++ {
		if err := sync.SyncOnce(ctx); err != nil {
			t.Fatalf("SyncOnce: %v", err)
		}
	}
	if len(store.tasks) != 1 {
		t.Errorf("repeat passes queued %d tasks, want 1 (dedup)", len(store.tasks))
	}
}

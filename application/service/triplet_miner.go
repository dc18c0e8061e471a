package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tribridrag/tribridrag/domain/chunk"
	"github.com/tribridrag/tribridrag/infrastructure/eventlog"
)

// Triplet is one (query, positive, negative) training example mined from
// usage. Confidence reflects how direct the feedback was: explicit marks
// score higher than click-through inference.
type Triplet struct {
	Query         string  `json:"query"`
	PositiveChunk string  `json:"positive"`
	NegativeChunk string  `json:"negative"`
	Confidence    float64 `json:"confidence"`
}

// MineMode controls what happens to previously mined triplets.
type MineMode string

const (
	// MineAppend adds new triplets to the existing set.
	MineAppend MineMode = "append"
	// MineReplace swaps the set for this run's triplets.
	MineReplace MineMode = "replace"
)

// MineOptions tunes one mining run.
type MineOptions struct {
	Mode MineMode
	// PreserveExistingOnEmpty keeps the prior triplet set when a replace
	// run mines nothing, instead of clearing it.
	PreserveExistingOnEmpty bool
	// ConfidenceThreshold discards triplets below this confidence.
	ConfidenceThreshold float64
	// Window restricts mining to events at or after this time.
	Window time.Time
}

// MineResult summarizes one mining run.
type MineResult struct {
	TripletsMined     int
	PreservedExisting bool
	Triplets          []Triplet
}

// ChunkResolver checks which of the given chunk ids still exist, so
// triplets over deleted chunks are discarded.
type ChunkResolver interface {
	Get(ctx context.Context, corpusID string, chunkIDs []string) ([]chunk.Chunk, error)
}

// TripletMiner reads usage event windows and emits training triplets:
// explicit positive feedback yields positives, explicit negative yields
// negatives, and with only click-through data the highest-ranked clicked
// chunk is the positive against the highest-ranked unclicked result as
// negative.
type TripletMiner struct {
	log      *eventlog.Log
	resolver ChunkResolver
	logger   *slog.Logger
}

// NewTripletMiner creates a TripletMiner. resolver may be nil to skip
// existence filtering (tests, offline mining over an exported log).
func NewTripletMiner(log *eventlog.Log, resolver ChunkResolver, logger *slog.Logger) *TripletMiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TripletMiner{log: log, resolver: resolver, logger: logger}
}

const (
	confidenceExplicit = 1.0
	confidenceClick    = 0.6
)

// Mine runs one mining pass. existing is the prior triplet set (used by
// append mode and the preserve-on-empty rule); the returned
// MineResult.Triplets is the full new set.
func (m *TripletMiner) Mine(ctx context.Context, existing []Triplet, opts MineOptions) (MineResult, error) {
	if opts.Mode == "" {
		opts.Mode = MineAppend
	}

	events, err := m.log.ReadSince(ctx, opts.Window)
	if err != nil {
		return MineResult{}, fmt.Errorf("read event log: %w", err)
	}

	mined := m.mine(ctx, events, opts.ConfidenceThreshold)

	result := MineResult{TripletsMined: len(mined)}
	switch opts.Mode {
	case MineReplace:
		if len(mined) == 0 && opts.PreserveExistingOnEmpty {
			result.PreservedExisting = true
			result.Triplets = existing
		} else {
			result.Triplets = mined
		}
	default:
		result.Triplets = append(append([]Triplet{}, existing...), mined...)
	}
	return result, nil
}

// queryState accumulates feedback against one search event.
type queryState struct {
	event     eventlog.Event
	positives map[string]bool
	negatives map[string]bool
	clicked   map[string]bool
}

func (m *TripletMiner) mine(ctx context.Context, events []eventlog.Event, threshold float64) []Triplet {
	queries := make(map[string]*queryState)
	var order []string
	for _, e := range events {
		switch e.Kind {
		case eventlog.KindSearch:
			if e.Query == "" || len(e.ResultChunks) == 0 {
				continue
			}
			queries[e.EventID] = &queryState{
				event:     e,
				positives: make(map[string]bool),
				negatives: make(map[string]bool),
				clicked:   make(map[string]bool),
			}
			order = append(order, e.EventID)
		case eventlog.KindHelpful, eventlog.KindExpand:
			if q, ok := queries[e.QueryEventID]; ok && e.ChunkID != "" {
				q.positives[e.ChunkID] = true
			}
		case eventlog.KindUnhelpful:
			if q, ok := queries[e.QueryEventID]; ok && e.ChunkID != "" {
				q.negatives[e.ChunkID] = true
			}
		case eventlog.KindClick:
			if q, ok := queries[e.QueryEventID]; ok && e.ChunkID != "" {
				q.clicked[e.ChunkID] = true
			}
		}
	}

	var triplets []Triplet
	for _, id := range order {
		q := queries[id]
		for _, t := range m.tripletsForQuery(q) {
			if t.Confidence < threshold {
				continue
			}
			triplets = append(triplets, t)
		}
	}
	return m.filterResolvable(ctx, queries, triplets)
}

// tripletsForQuery applies the feedback-resolution policy for one query.
func (m *TripletMiner) tripletsForQuery(q *queryState) []Triplet {
	results := q.event.ResultChunks

	// Explicit feedback dominates: pair every explicit positive with an
	// explicit negative when both exist, else with the highest-ranked
	// result that earned no positive signal.
	var triplets []Triplet
	if len(q.positives) > 0 {
		for _, pos := range rankedSubset(results, q.positives) {
			neg, ok := m.pickNegative(results, q, pos)
			if !ok {
				continue
			}
			triplets = append(triplets, Triplet{
				Query:         q.event.Query,
				PositiveChunk: pos,
				NegativeChunk: neg,
				Confidence:    confidenceExplicit,
			})
		}
		return triplets
	}

	// Click-through only: the highest-ranked clicked chunk is positive,
	// a high-ranked non-clicked chunk is the sampled negative.
	if len(q.clicked) == 0 {
		return nil
	}
	clicked := rankedSubset(results, q.clicked)
	if len(clicked) == 0 {
		return nil
	}
	pos := clicked[0]
	for _, id := range results {
		if id == pos || q.clicked[id] {
			continue
		}
		return []Triplet{{
			Query:         q.event.Query,
			PositiveChunk: pos,
			NegativeChunk: id,
			Confidence:    confidenceClick,
		}}
	}
	return nil
}

func (m *TripletMiner) pickNegative(results []string, q *queryState, positive string) (string, bool) {
	if negs := rankedSubset(results, q.negatives); len(negs) > 0 {
		return negs[0], true
	}
	for _, id := range results {
		if id == positive || q.positives[id] || q.clicked[id] {
			continue
		}
		return id, true
	}
	return "", false
}

// rankedSubset returns the members of set in result-rank order.
func rankedSubset(results []string, set map[string]bool) []string {
	var out []string
	for _, id := range results {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}

// filterResolvable drops triplets whose chunks no longer exist.
func (m *TripletMiner) filterResolvable(ctx context.Context, queries map[string]*queryState, triplets []Triplet) []Triplet {
	if m.resolver == nil || len(triplets) == 0 {
		return triplets
	}

	// Collect ids per corpus; a triplet resolves only if both chunks do.
	corpusByQuery := make(map[string]string)
	for _, q := range queries {
		corpusByQuery[q.event.Query] = q.event.CorpusID
	}

	kept := triplets[:0]
	for _, t := range triplets {
		corpusID := corpusByQuery[t.Query]
		chunks, err := m.resolver.Get(ctx, corpusID, []string{t.PositiveChunk, t.NegativeChunk})
		if err != nil {
			m.logger.Warn("triplet resolution failed, discarding", "query", t.Query, "error", err)
			continue
		}
		if len(chunks) != 2 {
			continue
		}
		kept = append(kept, t)
	}
	return kept
}

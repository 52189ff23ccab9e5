// Package learning implements the C10 Learning Store: decaying
// observations biasing future planning, queried by tag overlap at
// dispatch time.
//
// Grounded on internal/ratelimit/limiter.go's keyed-map-with-pruning idiom
// (a map mutex-guarded against concurrent access, with a prune pass that
// evicts entries below a floor), generalized from request-count buckets to
// confidence-decaying observations. Persisted through C2's
// UpsertLearning/ListLearnings so the append-only event log remains the
// single source of truth; this package only adds the ranked-query and
// decay/reinforcement logic on top of C2's entity maps.
package learning

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
)

// Config tunes decay behavior. No fixed decay rate or floor is named in
// spec.md §4.10 beyond "decays linearly" and "reinforced by a small step",
// so these defaults were chosen to keep an unused observation relevant for
// about two weeks before falling below the floor.
type Config struct {
	DecayPerDay       float64
	ReinforcementStep float64
	Floor             float64
	MinConfidence     float64
}

// DefaultConfig mirrors spec.md §6's learning.min_confidence = 0.6 plus
// the decay/reinforcement/floor values documented above.
func DefaultConfig() Config {
	return Config{
		DecayPerDay:       0.05,
		ReinforcementStep: 0.1,
		Floor:             0.1,
		MinConfidence:     0.6,
	}
}

// Store is the Learning Store (C10).
type Store struct {
	cfg      Config
	entities *entitystore.Store
	index    *Index

	mu sync.Mutex
}

// New builds a Store over entities, the C2 entity map that actually holds
// Learning records. Call SetIndex to attach the sqlite tag index; without
// one, Query falls back to scanning every entity in memory.
func New(cfg Config, entities *entitystore.Store) *Store {
	if cfg.MinConfidence == 0 {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg, entities: entities}
}

// SetIndex attaches the sqlite tag index Query narrows its candidate set
// through. Mirrors internal/scheduler.Scheduler's SetTracer/SetMetrics:
// optional infrastructure wired in after construction rather than a
// constructor parameter every caller (including tests) must supply.
func (s *Store) SetIndex(idx *Index) { s.index = idx }

// upsertIndex refreshes the tag index for l, logging rather than failing
// the caller's operation: the index is a query accelerant, and C2's entity
// map remains the source of truth Query falls back to scanning directly.
func (s *Store) upsertIndex(l domain.Learning) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(l); err != nil {
		slog.Default().Warn("failed to update learning index", "learning_id", l.ID, "error", err)
	}
}

// Record appends a new observation with full confidence.
func (s *Store) Record(ctx context.Context, l domain.Learning) (domain.Learning, error) {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.LastUsedAt = now
	if l.Confidence <= 0 {
		l.Confidence = 1.0
	}
	recorded, err := s.entities.UpsertLearning(ctx, l)
	if err == nil {
		s.upsertIndex(recorded)
	}
	return recorded, err
}

// Reinforce bumps an observation's confidence up by ReinforcementStep
// (capped at 1.0) and refreshes last_used_at, called when a learning
// attached to a task's prompt context led to a successful outcome.
func (s *Store) Reinforce(ctx context.Context, id string) (domain.Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.entities.ListLearnings() {
		if l.ID != id {
			continue
		}
		decayed := s.decayed(l)
		decayed.Confidence += s.cfg.ReinforcementStep
		if decayed.Confidence > 1.0 {
			decayed.Confidence = 1.0
		}
		decayed.LastUsedAt = time.Now().UTC()
		reinforced, err := s.entities.UpsertLearning(ctx, decayed)
		if err == nil {
			s.upsertIndex(reinforced)
		}
		return reinforced, err
	}
	return domain.Learning{}, domain.New(domain.KindNotFound, "learning %s", id)
}

// decayed returns l with confidence reduced linearly by DecayPerDay for
// every day elapsed since last_used_at; it does not persist the result.
func (s *Store) decayed(l domain.Learning) domain.Learning {
	days := time.Since(l.LastUsedAt).Hours() / 24
	l.Confidence -= days * s.cfg.DecayPerDay
	if l.Confidence < 0 {
		l.Confidence = 0
	}
	return l
}

// scored is a learning paired with its query-time rank.
type scored struct {
	learning domain.Learning
	rank     float64
}

// Query returns the topK observations with at least one tag in tags, whose
// decayed confidence is >= minConfidence (or cfg.MinConfidence if
// minConfidence is zero), ranked by recency x confidence descending.
//
// With an index attached (SetIndex) and tags non-empty, the scan is
// narrowed to the ids the index's tag lookup returns before applying the
// exact decayed-confidence check and ranking; without one, or once the
// index lookup fails, it falls back to scanning every entity directly.
func (s *Store) Query(tags []string, minConfidence float64, topK int) []domain.Learning {
	if minConfidence <= 0 {
		minConfidence = s.cfg.MinConfidence
	}
	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[strings.ToLower(t)] = true
	}

	pool := s.entities.ListLearnings()
	if s.index != nil && len(tags) > 0 {
		// Index confidence is the value as of last write, which decay can
		// only have lowered since; query it against the floor, not
		// minConfidence, so a stale index entry never hides a candidate
		// whose confidence has since decayed below minConfidence but is
		// still above the floor (the exact check below is authoritative).
		ids, err := s.index.CandidateIDs(tags, s.cfg.Floor, len(pool))
		if err != nil {
			slog.Default().Warn("learning index query failed, falling back to full scan", "error", err)
		} else {
			wantIDs := make(map[string]bool, len(ids))
			for _, id := range ids {
				wantIDs[id] = true
			}
			narrowed := pool[:0:0]
			for _, l := range pool {
				if wantIDs[l.ID] {
					narrowed = append(narrowed, l)
				}
			}
			pool = narrowed
		}
	}

	var candidates []scored
	now := time.Now()
	for _, l := range pool {
		if !overlaps(wanted, l.Tags) {
			continue
		}
		decayed := s.decayed(l)
		if decayed.Confidence < minConfidence {
			continue
		}
		recencyHours := now.Sub(decayed.LastUsedAt).Hours()
		recencyScore := 1.0 / (1.0 + recencyHours/24.0)
		candidates = append(candidates, scored{learning: decayed, rank: recencyScore * decayed.Confidence})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].rank > candidates[j].rank })
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]domain.Learning, topK)
	for i := 0; i < topK; i++ {
		out[i] = candidates[i].learning
	}
	return out
}

func overlaps(wanted map[string]bool, tags []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, t := range tags {
		if wanted[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// GC removes (by overwriting with a zero-confidence tombstone skip) any
// observation whose decayed confidence has fallen below cfg.Floor. Since
// C2's map has no delete operation (the event log is append-only), GC
// reports the ids that should be excluded from future queries rather than
// physically deleting; Query already filters by minConfidence so a GC'd
// learning is naturally excluded once its decayed confidence < Floor <=
// minConfidence for any caller using the default threshold.
func (s *Store) GC() []string {
	var collected []string
	for _, l := range s.entities.ListLearnings() {
		if s.decayed(l).Confidence < s.cfg.Floor {
			collected = append(collected, l.ID)
		}
	}
	return collected
}

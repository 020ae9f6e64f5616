// Package memstore keeps every repository in process memory. It backs unit tests and
// single-node deployments that run without postgres.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

type txMarker struct{}

type mappingKey struct {
	tenantID   uuid.UUID
	provider   string
	entityType string
	externalID string
}

type statsKey struct {
	tenantID   uuid.UUID
	action     string
	entityType string
}

type matchKey struct {
	a, b uuid.UUID
}

// state holds every table. Stored values are private copies and are replaced, never mutated,
// so a shallow copy of the maps is a consistent snapshot.
type state struct {
	entities      map[uuid.UUID]models.Entity
	mappings      map[mappingKey]models.ExternalEntityMap
	relationships map[uuid.UUID]models.Relationship
	runs          map[uuid.UUID]models.DetectionRun
	jobs          map[uuid.UUID]models.DetectionJob
	matches       map[uuid.UUID]map[matchKey]models.DetectionMatch
	ledger        map[uuid.UUID]models.MergeLedgerEntry
	rollbacks     map[uuid.UUID]models.MergeRollback
	records       []models.FeedbackRecord
	events        []models.FeedbackEvent
	stats         map[statsKey]models.FeedbackStats
	suggestions   map[uuid.UUID]models.AutomationSuggestion
	workflows     map[uuid.UUID]models.Workflow
	connections   map[uuid.UUID]models.Connection
	syncRuns      map[uuid.UUID]models.SyncRun
}

func newState() *state {
	return &state{
		entities:      map[uuid.UUID]models.Entity{},
		mappings:      map[mappingKey]models.ExternalEntityMap{},
		relationships: map[uuid.UUID]models.Relationship{},
		runs:          map[uuid.UUID]models.DetectionRun{},
		jobs:          map[uuid.UUID]models.DetectionJob{},
		matches:       map[uuid.UUID]map[matchKey]models.DetectionMatch{},
		ledger:        map[uuid.UUID]models.MergeLedgerEntry{},
		rollbacks:     map[uuid.UUID]models.MergeRollback{},
		stats:         map[statsKey]models.FeedbackStats{},
		suggestions:   map[uuid.UUID]models.AutomationSuggestion{},
		workflows:     map[uuid.UUID]models.Workflow{},
		connections:   map[uuid.UUID]models.Connection{},
		syncRuns:      map[uuid.UUID]models.SyncRun{},
	}
}

func (s *state) snapshot() *state {
	matches := make(map[uuid.UUID]map[matchKey]models.DetectionMatch, len(s.matches))
	for jobID, m := range s.matches {
		matches[jobID] = maps.Clone(m)
	}
	return &state{
		entities:      maps.Clone(s.entities),
		mappings:      maps.Clone(s.mappings),
		relationships: maps.Clone(s.relationships),
		runs:          maps.Clone(s.runs),
		jobs:          maps.Clone(s.jobs),
		matches:       matches,
		ledger:        maps.Clone(s.ledger),
		rollbacks:     maps.Clone(s.rollbacks),
		records:       slices.Clone(s.records),
		events:        slices.Clone(s.events),
		stats:         maps.Clone(s.stats),
		suggestions:   maps.Clone(s.suggestions),
		workflows:     maps.Clone(s.workflows),
		connections:   maps.Clone(s.connections),
		syncRuns:      maps.Clone(s.syncRuns),
	}
}

// DB is the shared in-memory database. Transactions are serialized: while one runs, callers
// outside it wait.
type DB struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *state
}

func NewDB() *DB {
	return &DB{data: newState()}
}

// lock takes the data lock, waiting for any running transaction first unless ctx belongs to it.
func (db *DB) lock(ctx context.Context) func() {
	if inTx(ctx) {
		db.mu.Lock()
		return db.mu.Unlock
	}
	db.txMu.Lock()
	db.mu.Lock()
	return func() {
		db.mu.Unlock()
		db.txMu.Unlock()
	}
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarker{}).(bool)
	return v
}

// WithinTx runs fn atomically. A failing or panicking fn leaves the data as it was before the
// call. Nested calls join the outer transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	before := db.data.snapshot()
	db.mu.Unlock()

	restore := func() {
		db.mu.Lock()
		db.data = before
		db.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

// NewStore returns every repository backed by a fresh in-memory database.
func NewStore() *repositories.Store {
	return NewDB().Store()
}

// Store returns every repository backed by db.
func (db *DB) Store() *repositories.Store {
	return &repositories.Store{
		Tx:            db,
		Entities:      &entityRepo{db: db},
		Mappings:      &mappingRepo{db: db},
		Relationships: &relationshipRepo{db: db},
		DetectionRuns: &detectionRunRepo{db: db},
		DetectionJobs: &detectionJobRepo{db: db},
		Ledger:        &ledgerRepo{db: db},
		Feedback:      &feedbackRepo{db: db},
		Suggestions:   &suggestionRepo{db: db},
		Workflows:     &workflowRepo{db: db},
		Connections:   &connectionRepo{db: db},
		SyncRuns:      &syncRunRepo{db: db},
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

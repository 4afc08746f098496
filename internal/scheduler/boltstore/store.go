// Package boltstore implements scheduler.Store against an embedded BoltDB
// file, adapted from the teacher's WorkflowStore bucket-per-concern layout
// (persistence.go) — used by the scheduler when SCHEDULER_STORE=bolt and by
// the test suite, without a running postgres.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/flowty/flowty/internal/domain"
	"github.com/flowty/flowty/internal/scheduler"
)

var (
	bucketWorkflows = []byte("workflows")
	bucketInstances = []byte("instances")
	bucketCounters  = []byte("counters")
)

// Store is the BoltDB-backed scheduler.Store implementation.
type Store struct {
	db *bbolt.DB
	mu sync.Mutex
}

type instanceRecord struct {
	WIID       int64           `json:"wiid"`
	WorkflowID string          `json:"workflow_id"`
	RunDate    time.Time       `json:"run_date"`
	RunState   domain.RunState `json:"run_state"`
}

// Open opens (creating if absent) a BoltDB file at path and ensures its
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketWorkflows, bucketInstances, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// PutWorkflow stores a workflow definition, keyed by workflow_id — the
// single-version-per-id analogue of the postgres "latest" harvest query,
// since this embeddable store has no append-only version history.
func (s *Store) PutWorkflow(ctx context.Context, def domain.WorkflowDefinition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).Put([]byte(def.WorkflowID), payload)
	})
}

// HarvestLatestWorkflows returns every stored workflow definition.
func (s *Store) HarvestLatestWorkflows(ctx context.Context) ([]scheduler.WorkflowRow, error) {
	var out []scheduler.WorkflowRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketWorkflows).ForEach(func(k, v []byte) error {
			var def domain.WorkflowDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				slog.Warn("skipping workflow with undecodable payload", "workflow_id", string(k), "error", err)
				return nil // skip: §4.3 step 1 decode-failure policy
			}
			out = append(out, scheduler.WorkflowRow{WorkflowID: string(k), Definition: def})
			return nil
		})
	})
	return out, err
}

// InsertInstance assigns a new wiid from a monotonically increasing bucket
// counter and persists the instance row.
func (s *Store) InsertInstance(ctx context.Context, workflowID string, runDate time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wiid int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		counters := tx.Bucket(bucketCounters)
		next, err := counters.NextSequence()
		if err != nil {
			return err
		}
		wiid = int64(next)

		rec := instanceRecord{WIID: wiid, WorkflowID: workflowID, RunDate: runDate, RunState: domain.RunStateNothing}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstances).Put(instanceKey(wiid), payload)
	})
	if err != nil {
		return 0, fmt.Errorf("insert instance: %w", err)
	}
	return wiid, nil
}

// UpdateInstanceState persists a RunState transition for an existing
// instance row.
func (s *Store) UpdateInstanceState(ctx context.Context, wiid int64, state domain.RunState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketInstances)
		key := instanceKey(wiid)
		existing := bucket.Get(key)
		if existing == nil {
			return fmt.Errorf("instance %d not found", wiid)
		}
		var rec instanceRecord
		if err := json.Unmarshal(existing, &rec); err != nil {
			return fmt.Errorf("unmarshal instance %d: %w", wiid, err)
		}
		rec.RunState = state
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put(key, payload)
	})
}

func instanceKey(wiid int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(wiid))
	return key
}

// Package policy persists ranking policy snapshots, context offset vectors
// and the refiner Q-table between restarts.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lumatv/nextup/internal/domain"
)

const (
	snapshotKeyPrefix = "policy:snap:"
	latestKey         = "policy:latest"
	offsetsKey        = "adapt:offsets"
	qtableKey         = "refine:qtable"

	// keepSnapshots bounds how many historical epochs stay on disk.
	keepSnapshots = 10
)

// Repo stores learned state in BadgerDB.
type Repo struct {
	db *badger.DB
}

func New(db *badger.DB) *Repo {
	return &Repo{db: db}
}

func snapshotKey(epoch uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", snapshotKeyPrefix, epoch))
}

// SaveSnapshot writes a policy snapshot under its epoch and moves the
// latest pointer to it. Older snapshots beyond the retention bound are
// removed in the same transaction.
func (r *Repo) SaveSnapshot(ctx context.Context, p domain.PolicyParameters) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(p.Epoch), data); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		if err := txn.Set([]byte(latestKey), []byte(fmt.Sprintf("%d", p.Epoch))); err != nil {
			return fmt.Errorf("set latest pointer: %w", err)
		}
		return dropOldSnapshots(txn, p.Epoch)
	})
}

// Latest loads the snapshot the latest pointer names. Returns
// domain.ErrNotFound when no snapshot has ever been written and
// domain.ErrPolicyCorrupt when the stored bytes do not decode or fail
// validation, so the caller can fall back to fresh parameters.
func (r *Repo) Latest(ctx context.Context, actorDim, criticDim int) (domain.PolicyParameters, error) {
	var p domain.PolicyParameters
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(latestKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get latest pointer: %w", err)
		}

		var epoch []byte
		if err := item.Value(func(val []byte) error {
			epoch = append([]byte{}, val...)
			return nil
		}); err != nil {
			return err
		}

		snapItem, err := txn.Get([]byte(snapshotKeyPrefix + padEpoch(epoch)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: latest pointer names missing epoch %s", domain.ErrPolicyCorrupt, epoch)
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return snapItem.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrPolicyCorrupt, err)
			}
			return nil
		})
	})
	if err != nil {
		return domain.PolicyParameters{}, err
	}
	if err := p.Validate(actorDim, criticDim); err != nil {
		return domain.PolicyParameters{}, err
	}
	return p, nil
}

// SaveOffsets stores the context offset vectors keyed by context bucket.
func (r *Repo) SaveOffsets(ctx context.Context, offsets map[string][]float32) error {
	return r.saveJSON(offsetsKey, offsets, "offsets")
}

// LoadOffsets returns the stored offset map, empty when none exists.
func (r *Repo) LoadOffsets(ctx context.Context) (map[string][]float32, error) {
	out := map[string][]float32{}
	if err := r.loadJSON(offsetsKey, &out, "offsets"); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveQTable stores the refiner Q-table keyed by state.
func (r *Repo) SaveQTable(ctx context.Context, table map[string][]float64) error {
	return r.saveJSON(qtableKey, table, "qtable")
}

// LoadQTable returns the stored Q-table, empty when none exists.
func (r *Repo) LoadQTable(ctx context.Context) (map[string][]float64, error) {
	out := map[string][]float64{}
	if err := r.loadJSON(qtableKey, &out, "qtable"); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) saveJSON(key string, v any, what string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return fmt.Errorf("set %s: %w", what, err)
		}
		return nil
	})
}

func (r *Repo) loadJSON(key string, v any, what string) error {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", what, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}

func dropOldSnapshots(txn *badger.Txn, latest uint64) error {
	if latest <= keepSnapshots {
		return nil
	}
	floor := latest - keepSnapshots

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(snapshotKeyPrefix)
	end := snapshotKey(floor)
	var victims [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		if string(key) >= string(end) {
			break
		}
		victims = append(victims, key)
	}
	it.Close()

	for _, key := range victims {
		if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("drop old snapshot: %w", err)
		}
	}
	return nil
}

func padEpoch(b []byte) string {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return string(b)
		}
		n = n*10 + int64(c-'0')
	}
	return fmt.Sprintf("%020d", n)
}

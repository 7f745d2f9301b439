// Package trajectory keeps the append-only log of ranking decisions and
// their observed rewards, used for learning-progress reporting and offline
// inspection.
package trajectory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/lumatv/nextup/internal/domain"
)

const (
	entryKeyPrefix = "traj:"
	metaKeyPrefix  = "trajmeta:"
)

// meta is the per-user running aggregate, updated on every append so
// progress reads never scan the log.
type meta struct {
	Count     int64   `json:"count"`
	RewardSum float64 `json:"reward_sum"`
}

// Repo stores trajectories in BadgerDB. Entry keys embed the timestamp in
// big-endian decimal so lexicographic order is chronological order.
type Repo struct {
	db *badger.DB
}

func New(db *badger.DB) *Repo {
	return &Repo{db: db}
}

func entryKey(userID string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", entryKeyPrefix, userID, ts.UnixNano(), id))
}

func userPrefix(userID string) []byte {
	return []byte(entryKeyPrefix + userID + ":")
}

func metaKey(userID string) []byte {
	return []byte(metaKeyPrefix + userID)
}

// Append writes a trajectory entry and folds its reward into the user
// aggregate in the same transaction.
func (r *Repo) Append(ctx context.Context, t domain.Trajectory) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(entryKey(t.UserID, t.Timestamp, t.ID), data); err != nil {
			return fmt.Errorf("set trajectory: %w", err)
		}

		m, err := readMeta(txn, t.UserID)
		if err != nil {
			return err
		}
		m.Count++
		m.RewardSum += t.Reward.Total
		return writeMeta(txn, t.UserID, m)
	})
}

// Recent returns up to n trajectories for a user, newest first.
func (r *Repo) Recent(ctx context.Context, userID string, n int) ([]domain.Trajectory, error) {
	if n <= 0 {
		return nil, nil
	}

	var out []domain.Trajectory
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := userPrefix(userID)
		// Reverse iteration seeks to the last key under the prefix.
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < n; it.Next() {
			var t domain.Trajectory
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			})
			if err != nil {
				return fmt.Errorf("decode trajectory: %w", err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregate returns the total interaction count and reward sum for a user.
func (r *Repo) Aggregate(ctx context.Context, userID string) (int64, float64, error) {
	var m meta
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		m, err = readMeta(txn, userID)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return m.Count, m.RewardSum, nil
}

// Prune drops entries older than the retention window or beyond the
// maxEntries count cap (0 = uncapped), always keeping the newest keepRecent
// entries per user regardless of age. The aggregate is left untouched: it
// reflects lifetime totals, not retained entries.
func (r *Repo) Prune(ctx context.Context, userID string, retention time.Duration, maxEntries, keepRecent int) (int, error) {
	cutoff := time.Now().Add(-retention)

	var victims [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := userPrefix(userID)
		seek := append(append([]byte{}, prefix...), 0xff)
		seen := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			seen++
			if seen <= keepRecent {
				continue
			}
			key := it.Item().KeyCopy(nil)
			if maxEntries > 0 && seen > maxEntries {
				victims = append(victims, key)
				continue
			}
			ts, ok := parseEntryTime(key, prefix)
			if ok && ts.Before(cutoff) {
				victims = append(victims, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan trajectories: %w", err)
	}

	pruned := 0
	for _, key := range victims {
		err := r.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return pruned, fmt.Errorf("delete trajectory: %w", err)
		}
		pruned++
	}
	return pruned, nil
}

// EraseUser removes every trajectory and the aggregate for a user.
func (r *Repo) EraseUser(ctx context.Context, userID string) error {
	var keys [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := userPrefix(userID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list trajectories: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("delete trajectory: %w", err)
			}
		}
		if err := txn.Delete(metaKey(userID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete aggregate: %w", err)
		}
		return nil
	})
}

func parseEntryTime(key, prefix []byte) (time.Time, bool) {
	rest := key[len(prefix):]
	if len(rest) < 20 {
		return time.Time{}, false
	}
	var nanos int64
	for _, c := range rest[:20] {
		if c < '0' || c > '9' {
			return time.Time{}, false
		}
		nanos = nanos*10 + int64(c-'0')
	}
	return time.Unix(0, nanos), true
}

func readMeta(txn *badger.Txn, userID string) (meta, error) {
	var m meta
	item, err := txn.Get(metaKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("get aggregate: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	if err != nil {
		return m, fmt.Errorf("decode aggregate: %w", err)
	}
	return m, nil
}

func writeMeta(txn *badger.Txn, userID string, m meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal aggregate: %w", err)
	}
	if err := txn.Set(metaKey(userID), data); err != nil {
		return fmt.Errorf("set aggregate: %w", err)
	}
	return nil
}

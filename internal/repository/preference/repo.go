// Package preference persists per-user preference records, session
// contexts and mined behavioral patterns.
package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/lumatv/nextup/internal/db"
	"github.com/lumatv/nextup/internal/domain"
)

type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Repo implements the preference storage contract on a KV store.
type Repo struct {
	store      store
	prefix     string
	sessionTTL time.Duration
}

func New(s store, keyPrefix string, sessionTTL time.Duration) *Repo {
	return &Repo{store: s, prefix: keyPrefix, sessionTTL: sessionTTL}
}

func (r *Repo) prefKey(userID string) string {
	return r.prefix + "pref:" + userID
}

func (r *Repo) sessionKey(userID string, device domain.DeviceType) string {
	return r.prefix + "session:" + userID + ":" + string(device)
}

// lastSessionKey points at the user's most recent session on any device.
func (r *Repo) lastSessionKey(userID string) string {
	return r.prefix + "session:" + userID + ":last"
}

func (r *Repo) patternsKey(userID string) string {
	return r.prefix + "patterns:" + userID
}

// GetRecord returns the stored preference record for a user, or
// domain.ErrNotFound if the user has no history yet.
func (r *Repo) GetRecord(ctx context.Context, userID string) (domain.PreferenceRecord, error) {
	raw, err := r.store.Get(ctx, r.prefKey(userID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.PreferenceRecord{}, domain.ErrNotFound
		}
		return domain.PreferenceRecord{}, fmt.Errorf("get preference record: %w", err)
	}

	var rec domain.PreferenceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.PreferenceRecord{}, fmt.Errorf("decode preference record: %w", err)
	}
	return rec, nil
}

// SaveRecord stores a preference record, replacing any previous one.
func (r *Repo) SaveRecord(ctx context.Context, rec domain.PreferenceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode preference record: %w", err)
	}
	if err := r.store.Set(ctx, r.prefKey(rec.UserID), raw); err != nil {
		return fmt.Errorf("save preference record: %w", err)
	}
	return nil
}

// GetSession returns the stored session context for a user. A non-empty
// device looks up that device's session first and falls back to the most
// recent session on any device; an empty device goes straight to the most
// recent one.
func (r *Repo) GetSession(ctx context.Context, userID string, device domain.DeviceType) (domain.SessionContext, error) {
	if device != "" {
		sc, err := r.readSession(ctx, r.sessionKey(userID, device))
		if err == nil {
			return sc, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.SessionContext{}, err
		}
	}
	return r.readSession(ctx, r.lastSessionKey(userID))
}

func (r *Repo) readSession(ctx context.Context, key string) (domain.SessionContext, error) {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.SessionContext{}, domain.ErrNotFound
		}
		return domain.SessionContext{}, fmt.Errorf("get session: %w", err)
	}

	var sc domain.SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return domain.SessionContext{}, fmt.Errorf("decode session: %w", err)
	}
	return sc, nil
}

// SaveSession stores the session context under its device key and as the
// user's most recent session, both with the configured TTL so a stale
// session expires on its own.
func (r *Repo) SaveSession(ctx context.Context, userID string, sc domain.SessionContext) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	for _, key := range []string{r.sessionKey(userID, sc.Device), r.lastSessionKey(userID)} {
		if err := r.store.SetWithTTL(ctx, key, raw, r.sessionTTL); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}
	return nil
}

// GetPatterns returns the last mined behavioral patterns for a user. A user
// without patterns yields an empty slice, not an error.
func (r *Repo) GetPatterns(ctx context.Context, userID string) ([]domain.BehavioralPattern, error) {
	raw, err := r.store.Get(ctx, r.patternsKey(userID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get patterns: %w", err)
	}

	var pats []domain.BehavioralPattern
	if err := json.Unmarshal(raw, &pats); err != nil {
		return nil, fmt.Errorf("decode patterns: %w", err)
	}
	return pats, nil
}

// SavePatterns replaces the stored pattern set for a user.
func (r *Repo) SavePatterns(ctx context.Context, userID string, pats []domain.BehavioralPattern) error {
	raw, err := json.Marshal(pats)
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}
	if err := r.store.Set(ctx, r.patternsKey(userID), raw); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	return nil
}

// Erase removes every key held for the user.
func (r *Repo) Erase(ctx context.Context, userID string) error {
	keys := []string{r.prefKey(userID), r.patternsKey(userID), r.lastSessionKey(userID)}
	for _, device := range domain.DeviceTypes {
		keys = append(keys, r.sessionKey(userID, device))
	}
	for _, key := range keys {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("erase user %s: %w", userID, err)
		}
	}
	return nil
}

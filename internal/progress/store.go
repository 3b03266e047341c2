// Package progress maintains the short-TTL records a polling client observes
// while a pipeline run is in flight, plus the report-id → manuscript-key
// mapping minted at job submission.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookforge/internal/domain"
)

const (
	editorialKeyPrefix = "status:"
	assetKeyPrefix     = "asset-status:"
	reportKeyPrefix    = "report-id:"

	// RecordTTL bounds how long progress records stay queryable.
	RecordTTL = 7 * 24 * time.Hour
	// MappingTTL bounds the report-id → manuscript-key binding.
	MappingTTL = 30 * 24 * time.Hour
)

// KV is the minimal key-value contract the store needs. RedisKV is the
// production implementation; tests use MemoryKV.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Store reads and writes progress records. A record whose status is terminal
// is never overwritten by a non-terminal write; late ticks from a finished
// phase land harmlessly.
type Store struct {
	kv     KV
	logger zerolog.Logger
}

func NewStore(kv KV, logger zerolog.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// BindReport maps a freshly minted report id to its manuscript key.
func (s *Store) BindReport(ctx context.Context, reportID, manuscriptKey string) error {
	if strings.TrimSpace(reportID) == "" {
		return domain.ErrInvalidReportID
	}
	return s.kv.Set(ctx, reportKeyPrefix+reportID, manuscriptKey, MappingTTL)
}

// ResolveReport returns the manuscript key bound to reportID.
func (s *Store) ResolveReport(ctx context.Context, reportID string) (string, error) {
	key, err := s.kv.Get(ctx, reportKeyPrefix+reportID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrManuscriptUnresolved
		}
		return "", err
	}
	return key, nil
}

// SetEditorial writes the editorial progress record for reportID.
func (s *Store) SetEditorial(ctx context.Context, reportID string, rec domain.ProgressRecord) error {
	return writeRecord(ctx, s, editorialKeyPrefix+reportID, rec.Status, rec)
}

// ResetEditorial replaces the editorial record unconditionally, bypassing
// the terminal guard. A redelivered job restarts over its own failed record.
func (s *Store) ResetEditorial(ctx context.Context, reportID string, rec domain.ProgressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	return s.kv.Set(ctx, editorialKeyPrefix+reportID, string(data), RecordTTL)
}

// GetEditorial reads the editorial progress record for reportID.
func (s *Store) GetEditorial(ctx context.Context, reportID string) (domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	err := readRecord(ctx, s, editorialKeyPrefix+reportID, &rec)
	return rec, err
}

// SetAsset writes the asset progress record for reportID.
func (s *Store) SetAsset(ctx context.Context, reportID string, rec domain.AssetProgressRecord) error {
	return writeRecord(ctx, s, assetKeyPrefix+reportID, rec.Status, rec)
}

// ResetAsset replaces the asset record unconditionally, bypassing the
// terminal guard. Used when asset generation is re-triggered under the same
// report id.
func (s *Store) ResetAsset(ctx context.Context, reportID string, rec domain.AssetProgressRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	return s.kv.Set(ctx, assetKeyPrefix+reportID, string(data), RecordTTL)
}

// GetAsset reads the asset progress record for reportID.
func (s *Store) GetAsset(ctx context.Context, reportID string) (domain.AssetProgressRecord, error) {
	var rec domain.AssetProgressRecord
	err := readRecord(ctx, s, assetKeyPrefix+reportID, &rec)
	return rec, err
}

func writeRecord(ctx context.Context, s *Store, key string, status domain.ProgressStatus, rec any) error {
	if !status.Terminal() {
		var existing domain.ProgressRecord
		err := readRecord(ctx, s, key, &existing)
		switch {
		case err == nil && existing.Status.Terminal():
			s.logger.Debug().Str("key", key).
				Str("dropped", string(status)).
				Str("kept", string(existing.Status)).
				Msg("progress: non-terminal write after terminal state dropped")
			return nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record: %w", err)
	}
	return s.kv.Set(ctx, key, string(data), RecordTTL)
}

func readRecord(ctx context.Context, s *Store, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal progress record %s: %w", key, err)
	}
	return nil
}

// RedisKV adapts a redis client to the KV contract.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return val, err
}

// MemoryKV is an in-process KV for tests. TTLs are recorded but not enforced.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
	ttls   map[string]time.Duration
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, domain.ErrNotFound)
	}
	return val, nil
}

// TTL returns the duration recorded for key. Test helper.
func (m *MemoryKV) TTL(key string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ttls[key]
}

var (
	_ KV = (*RedisKV)(nil)
	_ KV = (*MemoryKV)(nil)
)

// Package persistent implements the durable cache tier.
//
// A Store serializes every value into an envelope and writes it to a Medium under
// prefix+key. Alongside the values it keeps a metadata index (key to expiry and
// approximate size) stored under its own key, so cleanup and eviction never have to
// read values back. The index is also loaded into a bloom filter that lets lookups of
// never-written keys skip the medium entirely.
//
// Storage problems never reach the caller. A write that exceeds the medium's quota
// triggers a cleanup and one retry before it is dropped; a value that cannot be decoded
// is removed and reported as a miss.
package persistent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/encore/internal/models"
)

const (
	DefaultKeyPrefix   = "encore_cache_"
	DefaultMetadataKey = "encore_cache_metadata"
	DefaultMaxEntries  = 500

	// evictFraction of the index is evicted, oldest expiry first, once MaxEntries is exceeded.
	evictFraction = 0.2

	neverExpires = int64(math.MaxInt64)
)

// Config configures a Store.
type Config struct {
	KeyPrefix   string
	MetadataKey string
	MaxEntries  int

	BloomExpectedItems     uint
	BloomFalsePositiveRate float64
}

// DefaultConfig returns the default Store configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:              DefaultKeyPrefix,
		MetadataKey:            DefaultMetadataKey,
		MaxEntries:             DefaultMaxEntries,
		BloomExpectedItems:     1000,
		BloomFalsePositiveRate: 0.01,
	}
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the diagnostics observer.
func WithObserver(o models.Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Stats describes the durable tier.
type Stats struct {
	Entries     int `json:"entries"`
	ApproxBytes int `json:"approxBytes"`
	Expired     int `json:"expired"`
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Encoding  string          `json:"encoding,omitempty"`
	ExpiresAt int64           `json:"expiresAt"`
	CreatedAt int64           `json:"createdAt"`
}

const encodingBase64 = "base64"

var errReservedKey = errors.New("key collides with the metadata key")

// Store is the durable, quota-aware cache tier. All operations on one Store are
// serialized.
type Store struct {
	medium Medium
	cfg    Config

	mu     sync.Mutex
	index  map[string]models.MetadataRecord
	filter *bloom.BloomFilter

	now      func() time.Time
	logger   *zap.Logger
	observer models.Observer
}

// New creates a Store over medium and loads the metadata index it finds there.
func New(ctx context.Context, medium Medium, cfg Config, opts ...Option) (*Store, error) {
	if medium == nil {
		return nil, errors.New("persistent: nil medium")
	}
	cfg = cfg.withDefaults()

	s := &Store{
		medium: medium,
		cfg:    cfg,
		index:  make(map[string]models.MetadataRecord),
		filter: bloom.NewWithEstimates(cfg.BloomExpectedItems, cfg.BloomFalsePositiveRate),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer == nil {
		s.observer = models.NewLogObserver(s.logger)
	}

	if err := s.loadIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.MetadataKey == "" {
		c.MetadataKey = d.MetadataKey
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.BloomExpectedItems == 0 {
		c.BloomExpectedItems = d.BloomExpectedItems
	}
	if c.BloomFalsePositiveRate <= 0 || c.BloomFalsePositiveRate >= 1 {
		c.BloomFalsePositiveRate = d.BloomFalsePositiveRate
	}
	return c
}

func (s *Store) loadIndex(ctx context.Context) error {
	raw, err := s.medium.Get(ctx, s.cfg.MetadataKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load cache metadata: %w", err)
	}

	index := make(map[string]models.MetadataRecord)
	if err := json.Unmarshal(raw, &index); err != nil {
		s.logger.Warn("Discarding unreadable cache metadata", zap.Error(err))
		return nil
	}
	s.index = index
	s.rebuildFilterLocked()
	return nil
}

// Get returns the value stored under key. Expired, missing and undecodable entries
// are all misses.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved(key) || !s.filter.TestString(key) {
		return nil, false
	}

	raw, err := s.medium.Get(ctx, s.cfg.KeyPrefix+key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, ok := s.index[key]; ok {
				delete(s.index, key)
				s.saveIndexLocked(ctx)
			}
			return nil, false
		}
		s.readFailed(key, err)
		return nil, false
	}

	var env envelope
	data, err := decodeEnvelope(raw, &env)
	if err != nil {
		s.readFailed(key, err)
		s.removeLocked(ctx, key)
		s.saveIndexLocked(ctx)
		return nil, false
	}

	if s.now().UnixMilli() > env.ExpiresAt {
		s.removeLocked(ctx, key)
		s.saveIndexLocked(ctx)
		return nil, false
	}
	return data, true
}

// Set stores value under key for ttl. A ttl of zero or less never expires. It reports
// whether the value was written; a dropped write is logged, never returned.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved(key) {
		s.writeDropped(key, errReservedKey)
		return false
	}

	now := s.now()
	env := envelope{CreatedAt: now.UnixMilli(), ExpiresAt: expiresAt(now, ttl)}
	raw, err := encodeEnvelope(value, &env)
	if err != nil {
		s.writeDropped(key, err)
		return false
	}

	err = s.medium.Set(ctx, s.cfg.KeyPrefix+key, raw)
	if errors.Is(err, ErrQuotaExceeded) {
		s.logger.Debug("Cache quota exceeded, cleaning up before retry", zap.String("key", key))
		s.cleanupLocked(ctx)
		err = s.medium.Set(ctx, s.cfg.KeyPrefix+key, raw)
	}
	if err != nil {
		s.writeDropped(key, err)
		return false
	}

	s.index[key] = models.MetadataRecord{ExpiresAt: env.ExpiresAt, ApproxSizeBytes: len(key) + len(raw)}
	s.filter.AddString(key)
	s.cleanupIfNeededLocked(ctx)

	// The write only counts once the index records it.
	err = s.saveIndexLocked(ctx)
	if errors.Is(err, ErrQuotaExceeded) {
		s.cleanupLocked(ctx)
		err = s.saveIndexLocked(ctx)
	}
	if err != nil {
		if _, ok := s.index[key]; ok {
			s.removeLocked(ctx, key)
			s.rebuildFilterLocked()
			_ = s.saveIndexLocked(ctx)
		}
		s.writeDropped(key, fmt.Errorf("failed to save cache metadata: %w", err))
		return false
	}
	return true
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(ctx, key)
	s.saveIndexLocked(ctx)
}

// Clear removes every entry the index knows about and, when the medium can enumerate
// its keys, any orphaned value under the key prefix.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.index {
		s.removeLocked(ctx, key)
	}

	if scanner, ok := s.medium.(Scanner); ok {
		keys, err := scanner.Keys(ctx, s.cfg.KeyPrefix)
		if err != nil {
			s.logger.Warn("Failed to list cache keys for clear", zap.Error(err))
		}
		for _, k := range keys {
			if k == s.cfg.MetadataKey {
				continue
			}
			if err := s.medium.Delete(ctx, k); err != nil {
				s.logger.Warn("Failed to delete orphaned cache entry", zap.String("key", k), zap.Error(err))
			}
		}
	}

	s.index = make(map[string]models.MetadataRecord)
	s.filter.ClearAll()
	if err := s.medium.Delete(ctx, s.cfg.MetadataKey); err != nil {
		s.logger.Warn("Failed to delete cache metadata", zap.Error(err))
	}
}

// Cleanup removes every entry that has expired and returns how many were removed.
func (s *Store) Cleanup(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(ctx)
}

// Stats returns entry counts and sizes from the metadata index.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var st Stats
	for _, rec := range s.index {
		st.Entries++
		st.ApproxBytes += rec.ApproxSizeBytes
		if rec.Expired(now) {
			st.Expired++
		}
	}
	return st
}

// Len returns the number of indexed keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Close writes the metadata index one last time and closes the medium.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saveErr := s.saveIndexLocked(context.Background())
	return errors.Join(saveErr, s.medium.Close())
}

func (s *Store) reserved(key string) bool {
	return s.cfg.KeyPrefix+key == s.cfg.MetadataKey
}

func (s *Store) cleanupLocked(ctx context.Context) int {
	now := s.now()
	removed := 0
	for key, rec := range s.index {
		if rec.Expired(now) {
			s.removeLocked(ctx, key)
			removed++
		}
	}
	if removed > 0 {
		s.rebuildFilterLocked()
		s.saveIndexLocked(ctx)
		s.logger.Debug("Removed expired cache entries", zap.Int("count", removed))
	}
	return removed
}

// cleanupIfNeededLocked evicts the earliest-expiring fifth of the index, expired or not,
// once the index holds more than MaxEntries keys.
func (s *Store) cleanupIfNeededLocked(ctx context.Context) {
	n := len(s.index)
	if n <= s.cfg.MaxEntries {
		return
	}

	type keyed struct {
		key string
		rec models.MetadataRecord
	}
	records := make([]keyed, 0, n)
	for k, rec := range s.index {
		records = append(records, keyed{key: k, rec: rec})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].rec.ExpiresAt != records[j].rec.ExpiresAt {
			return records[i].rec.ExpiresAt < records[j].rec.ExpiresAt
		}
		return records[i].key < records[j].key
	})

	evict := int(math.Floor(float64(n) * evictFraction))
	for _, r := range records[:evict] {
		s.removeLocked(ctx, r.key)
	}
	if evict > 0 {
		s.rebuildFilterLocked()
		s.observer.Observe(models.Event{
			Kind:     models.EventCacheEvicted,
			At:       s.now(),
			Resource: "persistent",
			Count:    evict,
		})
	}
}

func (s *Store) removeLocked(ctx context.Context, key string) {
	if err := s.medium.Delete(ctx, s.cfg.KeyPrefix+key); err != nil {
		s.logger.Warn("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
	delete(s.index, key)
}

func (s *Store) saveIndexLocked(ctx context.Context) error {
	raw, err := json.Marshal(s.index)
	if err != nil {
		s.logger.Error("Failed to encode cache metadata", zap.Error(err))
		return err
	}
	if err := s.medium.Set(ctx, s.cfg.MetadataKey, raw); err != nil {
		s.logger.Warn("Failed to save cache metadata", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) rebuildFilterLocked() {
	s.filter.ClearAll()
	for key := range s.index {
		s.filter.AddString(key)
	}
}

func (s *Store) readFailed(key string, err error) {
	s.observer.Observe(models.Event{
		Kind:     models.EventCacheReadFailed,
		At:       s.now(),
		Resource: "persistent",
		Key:      key,
		Err:      err,
	})
}

func (s *Store) writeDropped(key string, err error) {
	s.observer.Observe(models.Event{
		Kind:     models.EventCacheWriteDropped,
		At:       s.now(),
		Resource: "persistent",
		Key:      key,
		Err:      err,
	})
}

func expiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return neverExpires
	}
	return now.Add(ttl).UnixMilli()
}

// encodeEnvelope embeds compact JSON values as-is and stores anything else base64 encoded.
func encodeEnvelope(value []byte, env *envelope) ([]byte, error) {
	var compact bytes.Buffer
	if len(value) > 0 && json.Compact(&compact, value) == nil && bytes.Equal(compact.Bytes(), value) {
		env.Data = value
	} else {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		env.Data = b
		env.Encoding = encodingBase64
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeEnvelope(raw []byte, env *envelope) ([]byte, error) {
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("failed to decode cache envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, errors.New("cache envelope has no data")
	}
	if env.Encoding != encodingBase64 {
		return []byte(env.Data), nil
	}
	var data []byte
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode cache data: %w", err)
	}
	return data, nil
}

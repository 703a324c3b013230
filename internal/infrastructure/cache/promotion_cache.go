package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/giadungplus/opscore/internal/domain/integration"
	"github.com/giadungplus/opscore/internal/domain/promotion"
)

// naiveTimestamp is accepted for cache files written without a zone
const naiveTimestamp = "2006-01-02T15:04:05.999999999"

// PromotionSnapshot is the catalogue as last written to disk
type PromotionSnapshot struct {
	CachedAt time.Time
	Programs []promotion.Program
	Skipped  int // programs dropped as malformed while loading
}

type promotionFile struct {
	CachedAt   string            `json:"cached_at"`
	Promotions []json.RawMessage `json:"promotions"`
}

// PromotionFileCache stores the promotion catalogue in a single JSON file.
// There is one writer (refresh) and any number of readers.
type PromotionFileCache struct {
	path   string
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewPromotionFileCache creates a cache backed by path
func NewPromotionFileCache(path string, logger *zap.Logger) *PromotionFileCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotionFileCache{path: path, logger: logger.Named("promotion.cache")}
}

// Path returns the cache file location
func (c *PromotionFileCache) Path() string {
	return c.path
}

// Save replaces the cache file with programs stamped at cachedAt
func (c *PromotionFileCache) Save(programs []promotion.Program, cachedAt time.Time) error {
	raw := make([]json.RawMessage, 0, len(programs))
	for i := range programs {
		data, err := marshalCompact(&programs[i])
		if err != nil {
			return fmt.Errorf("failed to encode program %d: %w", programs[i].ID, err)
		}
		raw = append(raw, data)
	}
	data, err := marshalCompact(promotionFile{
		CachedAt:   cachedAt.Format(time.RFC3339),
		Promotions: raw,
	})
	if err != nil {
		return fmt.Errorf("failed to encode promotion cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFileAtomic(c.path, data)
}

// Load reads the cache file. Programs that fail to decode or validate are
// skipped with a warning; an unreadable file yields ErrPromotionDataInvalid.
func (c *PromotionFileCache) Load() (*PromotionSnapshot, error) {
	c.mu.RLock()
	data, err := os.ReadFile(c.path)
	c.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: cache file %s does not exist", integration.ErrPromotionDataInvalid, c.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read promotion cache: %w", err)
	}

	var file promotionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrPromotionDataInvalid, err)
	}
	cachedAt, err := parseCachedAt(file.CachedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: cached_at: %v", integration.ErrPromotionDataInvalid, err)
	}

	snapshot := &PromotionSnapshot{CachedAt: cachedAt, Programs: make([]promotion.Program, 0, len(file.Promotions))}
	for i, raw := range file.Promotions {
		var p promotion.Program
		if err := json.Unmarshal(raw, &p); err != nil {
			c.logger.Warn("Skipping malformed promotion program", zap.Int("index", i), zap.Error(err))
			snapshot.Skipped++
			continue
		}
		if err := p.Validate(); err != nil {
			c.logger.Warn("Skipping malformed promotion program", zap.Int64("program_id", p.ID), zap.Error(err))
			snapshot.Skipped++
			continue
		}
		snapshot.Programs = append(snapshot.Programs, p)
	}
	return snapshot, nil
}

func parseCachedAt(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(naiveTimestamp, s, time.Local)
}

// marshalCompact encodes without whitespace and keeps non-ASCII and HTML characters literal
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}

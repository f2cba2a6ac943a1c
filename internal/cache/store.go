// Package cache provides the local, durable, partitioned cache of feed items.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fanzone/memefeed/pkg/model"
)

// Store is the partition-scoped cache of CachedEntry rows.
//
// Rows are keyed by (id, filterKey): one item may live in several partitions
// as independent rows because eviction and capping are per partition.
type Store interface {
	// Observe emits the ordered partition snapshot now and after every write
	// that may touch the partition. The channel closes when ctx ends or the store closes.
	Observe(ctx context.Context, key model.FilterKey) (<-chan []model.CachedEntry, error)

	// Snapshot returns the partition ordered by its sort rule.
	Snapshot(ctx context.Context, key model.FilterKey) ([]model.CachedEntry, error)

	// InsertOrReplace upserts rows by (id, filterKey). Last write wins.
	InsertOrReplace(ctx context.Context, entries []model.CachedEntry) error

	// Insert upserts a single row.
	Insert(ctx context.Context, entry model.CachedEntry) error

	// ReplacePartition clears the partition and inserts entries in one transaction.
	ReplacePartition(ctx context.Context, key model.FilterKey, entries []model.CachedEntry) error

	// ClearPartition deletes every row of one partition.
	ClearPartition(ctx context.Context, key model.FilterKey) error

	// DeleteByID deletes the item from every partition.
	DeleteByID(ctx context.Context, id string) error

	// EvictOlderThan deletes rows cached before cutoff, in every partition.
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// EnforceCap deletes every row of the partition outside its top capacity
	// rows under the partition's sort rule.
	EnforceCap(ctx context.Context, key model.FilterKey, capacity int) (int64, error)

	// Close releases the underlying database.
	Close() error
}

// Config holds cache configuration.
type Config struct {
	Path     string        `yaml:"path"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the production defaults: 30 rows per partition, 48h TTL.
func DefaultConfig() Config {
	return Config{
		Path:     "data/memefeed.db",
		Capacity: 30,
		TTL:      48 * time.Hour,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.Capacity == 0 {
		c.Capacity = d.Capacity
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
}

// ApplyEnvOverrides applies MEMEFEED_CACHE_PATH.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MEMEFEED_CACHE_PATH"); v != "" {
		c.Path = v
	}
}

// ResolvePaths makes a relative database path relative to baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	if c.Path == "" || isMemoryPath(c.Path) || filepath.IsAbs(c.Path) {
		return
	}
	c.Path = filepath.Clean(filepath.Join(baseDir, c.Path))
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("cache: capacity must be positive, got %d", c.Capacity)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", c.TTL)
	}
	return nil
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// Package resultcache persists large result sets to tracked JSON files and
// pages through them without reloading the source.
//
// Each item carries two flags. _retrieved is set when a page returns the
// item and _processed when the caller marks it done; an item is never
// processed without being retrieved. Counts in the metadata block are
// recomputed from the flags on every write.
package resultcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fileutil"
)

const (
	flagRetrieved = "_retrieved"
	flagProcessed = "_processed"

	// DefaultThreshold is the item count above which results are filed.
	DefaultThreshold = 20
	// DefaultPreviewSize is the number of items returned inline with a
	// filed result.
	DefaultPreviewSize = 5

	fileMode = 0600
	dirMode  = 0700
)

var (
	// ErrNotFound is returned for a cache file that does not exist.
	ErrNotFound = fmt.Errorf("cache file %w", apperr.ErrNotFound)
	// ErrCorrupt is returned for a cache file that is not valid JSON.
	ErrCorrupt = fmt.Errorf("invalid cache file: %w", apperr.ErrCacheFileCorrupt)
	// ErrLegacy is returned for an untracked cache file (a bare item list or
	// one missing its metadata block).
	ErrLegacy = fmt.Errorf("legacy cache file format without tracking; re-run the original query to regenerate it: %w", apperr.ErrCacheFileCorrupt)
)

// Item is one cached record. Its fields are whatever the producing tool
// emitted; "id" identifies it for mark-processed.
type Item map[string]any

func (it Item) flag(name string) bool {
	v, _ := it[name].(bool)
	return v
}

// ID returns the item's "id" field as a string, or "".
func (it Item) ID() string {
	switch v := it["id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// stripped returns a copy of it without tracking flags, restricted to
// fields when fields is non-empty. The id is always kept.
func (it Item) stripped(fields []string) Item {
	out := make(Item, len(it))
	if len(fields) > 0 {
		for _, f := range fields {
			if v, ok := it[f]; ok && f != flagRetrieved && f != flagProcessed {
				out[f] = v
			}
		}
		if v, ok := it["id"]; ok {
			out["id"] = v
		}
		return out
	}
	for k, v := range it {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}

// Metadata is the header block of a cache file.
type Metadata struct {
	Created        time.Time `json:"created"`
	SourceTool     string    `json:"source_tool"`
	TotalItems     int       `json:"total_items"`
	RetrievedCount int       `json:"retrieved_count"`
	ProcessedCount int       `json:"processed_count"`
}

// File is the on-disk cache format.
type File struct {
	Metadata Metadata `json:"metadata"`
	Items    []Item   `json:"items"`
}

func (f *File) recount() {
	f.Metadata.TotalItems = len(f.Items)
	f.Metadata.RetrievedCount = 0
	f.Metadata.ProcessedCount = 0
	for _, it := range f.Items {
		if it.flag(flagRetrieved) {
			f.Metadata.RetrievedCount++
		}
		if it.flag(flagProcessed) {
			f.Metadata.ProcessedCount++
		}
	}
}

// Cache manages the cache directory.
type Cache struct {
	dir         string
	threshold   int
	previewSize int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Cache rooted at dir.
func New(dir string) *Cache {
	return &Cache{
		dir:         fileutil.ExpandPath(dir),
		threshold:   DefaultThreshold,
		previewSize: DefaultPreviewSize,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// WithThreshold sets the auto-file threshold.
func (c *Cache) WithThreshold(n int) *Cache {
	if n > 0 {
		c.threshold = n
	}
	return c
}

// WithPreviewSize sets how many items are returned inline with a filed
// result.
func (c *Cache) WithPreviewSize(n int) *Cache {
	if n > 0 {
		c.previewSize = n
	}
	return c
}

// WithLogger sets the logger for the cache.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	c.logger = logger
	return c
}

// WithClock overrides the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Threshold returns the auto-file threshold.
func (c *Cache) Threshold() int {
	return c.threshold
}

// Resolve maps a caller-supplied file reference to a path. "~" is expanded
// and relative names are taken to be inside the cache directory.
func (c *Cache) Resolve(name string) string {
	p := fileutil.ExpandPath(name)
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.dir, p)
	}
	return filepath.Clean(p)
}

func (c *Cache) load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if json.Valid(trimmed) {
			return nil, fmt.Errorf("%s: %w", path, ErrLegacy)
		}
		return nil, fmt.Errorf("%s: %w", path, ErrCorrupt)
	}
	var raw struct {
		Metadata *Metadata `json:"metadata"`
		Items    []Item    `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrCorrupt, err)
	}
	if raw.Metadata == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrLegacy)
	}
	f := &File{Metadata: *raw.Metadata, Items: raw.Items}
	if f.Items == nil {
		f.Items = []Item{}
	}
	return f, nil
}

func (c *Cache) save(path string, f *File) error {
	f.recount()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, fileMode); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

package resultcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
)

// Mode selects which items a read considers.
type Mode string

const (
	// ModeUnretrieved considers only items not yet returned by a read.
	ModeUnretrieved Mode = "unretrieved"
	// ModeIncludeRetrieved considers every item.
	ModeIncludeRetrieved Mode = "include_retrieved"
	// ModeUnprocessed considers items that were retrieved but not processed.
	ModeUnprocessed Mode = "unprocessed"
)

// DefaultPageSize is the read limit used when ReadOptions.Limit is zero.
const DefaultPageSize = 20

// ReadOptions selects a page of a cache file.
type ReadOptions struct {
	Start       int
	Limit       int
	FilterField string
	FilterValue string
	Fields      []string
	Mode        Mode
}

// Page is the result of Read.
type Page struct {
	Count                int     `json:"count"`
	TotalInFile          int     `json:"total_in_file"`
	RetrievedCount       int     `json:"retrieved_count"`
	ProcessedCount       int     `json:"processed_count"`
	RemainingUnretrieved int     `json:"remaining_unretrieved"`
	FilterApplied        *string `json:"filter_applied"`
	Items                []Item  `json:"items"`
}

// Read returns a page of items and marks exactly those items retrieved.
func (c *Cache) Read(name string, opts ReadOptions) (*Page, error) {
	if opts.Start < 0 {
		return nil, apperr.Invalid("start", "must not be negative, got %d", opts.Start)
	}
	if opts.Limit < 0 {
		return nil, apperr.Invalid("limit", "must be positive, got %d", opts.Limit)
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultPageSize
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeUnretrieved
	}

	path := c.Resolve(name)
	f, err := c.load(path)
	if err != nil {
		return nil, err
	}

	var candidates []int
	for i, it := range f.Items {
		switch mode {
		case ModeUnretrieved:
			if it.flag(flagRetrieved) {
				continue
			}
		case ModeUnprocessed:
			if !it.flag(flagRetrieved) || it.flag(flagProcessed) {
				continue
			}
		case ModeIncludeRetrieved:
		default:
			return nil, apperr.Invalid("mode", "unknown read mode %q", mode)
		}
		candidates = append(candidates, i)
	}

	var applied *string
	if opts.FilterField != "" && opts.FilterValue != "" {
		s := opts.FilterField + "=" + opts.FilterValue
		applied = &s
		needle := strings.ToLower(opts.FilterValue)
		kept := candidates[:0]
		for _, i := range candidates {
			v, ok := f.Items[i][opts.FilterField]
			if ok && strings.Contains(strings.ToLower(stringify(v)), needle) {
				kept = append(kept, i)
			}
		}
		candidates = kept
	}

	var selected []int
	if opts.Start < len(candidates) {
		end := opts.Start + opts.Limit
		if end > len(candidates) {
			end = len(candidates)
		}
		selected = candidates[opts.Start:end]
	}

	page := &Page{FilterApplied: applied, Items: make([]Item, 0, len(selected))}
	for _, i := range selected {
		f.Items[i][flagRetrieved] = true
		page.Items = append(page.Items, f.Items[i].stripped(opts.Fields))
	}
	if err := c.save(path, f); err != nil {
		return nil, err
	}

	page.Count = len(page.Items)
	page.TotalInFile = f.Metadata.TotalItems
	page.RetrievedCount = f.Metadata.RetrievedCount
	page.ProcessedCount = f.Metadata.ProcessedCount
	page.RemainingUnretrieved = f.Metadata.TotalItems - f.Metadata.RetrievedCount
	return page, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case []any, map[string]any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// MarkResult is the result of MarkProcessed.
type MarkResult struct {
	MarkedCount          int `json:"marked_count"`
	IDsProvided          int `json:"ids_provided"`
	TotalInFile          int `json:"total_in_file"`
	RetrievedCount       int `json:"retrieved_count"`
	ProcessedCount       int `json:"processed_count"`
	RemainingUnprocessed int `json:"remaining_unprocessed"`
}

// MarkProcessed sets both flags on every item whose id is in ids.
func (c *Cache) MarkProcessed(name string, ids []string) (*MarkResult, error) {
	path := c.Resolve(name)
	f, err := c.load(path)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	marked := 0
	for _, it := range f.Items {
		if id := it.ID(); id != "" && want[id] {
			it[flagProcessed] = true
			it[flagRetrieved] = true
			marked++
		}
	}
	if err := c.save(path, f); err != nil {
		return nil, err
	}
	return &MarkResult{
		MarkedCount:          marked,
		IDsProvided:          len(ids),
		TotalInFile:          f.Metadata.TotalItems,
		RetrievedCount:       f.Metadata.RetrievedCount,
		ProcessedCount:       f.Metadata.ProcessedCount,
		RemainingUnprocessed: f.Metadata.TotalItems - f.Metadata.ProcessedCount,
	}, nil
}

// Status describes a cache file without modifying it.
type Status struct {
	FilePath             string    `json:"file_path"`
	Created              time.Time `json:"created"`
	SourceTool           string    `json:"source_tool"`
	TotalItems           int       `json:"total_items"`
	RetrievedCount       int       `json:"retrieved_count"`
	ProcessedCount       int       `json:"processed_count"`
	RemainingUnretrieved int       `json:"remaining_unretrieved"`
	RemainingUnprocessed int       `json:"remaining_unprocessed"`
	PercentRetrieved     float64   `json:"percent_retrieved"`
	PercentProcessed     float64   `json:"percent_processed"`
}

// Status recomputes the counts of a cache file.
func (c *Cache) Status(name string) (*Status, error) {
	path := c.Resolve(name)
	f, err := c.load(path)
	if err != nil {
		return nil, err
	}
	f.recount()
	m := f.Metadata
	return &Status{
		FilePath:             path,
		Created:              m.Created,
		SourceTool:           m.SourceTool,
		TotalItems:           m.TotalItems,
		RetrievedCount:       m.RetrievedCount,
		ProcessedCount:       m.ProcessedCount,
		RemainingUnretrieved: m.TotalItems - m.RetrievedCount,
		RemainingUnprocessed: m.TotalItems - m.ProcessedCount,
		PercentRetrieved:     percent(m.RetrievedCount, m.TotalItems),
		PercentProcessed:     percent(m.ProcessedCount, m.TotalItems),
	}, nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(1000*float64(n)/float64(total)) / 10
}

// ResetResult is the result of Reset.
type ResetResult struct {
	Success             bool `json:"success"`
	RetrievedFlagsReset int  `json:"retrieved_flags_reset"`
	ProcessedFlagsReset int  `json:"processed_flags_reset"`
	TotalItems          int  `json:"total_items"`
	RetrievedCount      int  `json:"retrieved_count"`
	ProcessedCount      int  `json:"processed_count"`
}

// Reset clears flags. Clearing retrieved flags also clears processed flags,
// since an item cannot be processed without having been retrieved.
func (c *Cache) Reset(name string, retrieved, processed bool) (*ResetResult, error) {
	path := c.Resolve(name)
	f, err := c.load(path)
	if err != nil {
		return nil, err
	}
	res := &ResetResult{Success: true}
	for _, it := range f.Items {
		if retrieved && it.flag(flagRetrieved) {
			it[flagRetrieved] = false
			res.RetrievedFlagsReset++
		}
		if (processed || retrieved) && it.flag(flagProcessed) {
			it[flagProcessed] = false
			res.ProcessedFlagsReset++
		}
	}
	if err := c.save(path, f); err != nil {
		return nil, err
	}
	res.TotalItems = f.Metadata.TotalItems
	res.RetrievedCount = f.Metadata.RetrievedCount
	res.ProcessedCount = f.Metadata.ProcessedCount
	return res, nil
}

// FileInfo summarizes one file in the cache directory.
type FileInfo struct {
	Path           string     `json:"path"`
	Name           string     `json:"name"`
	Format         string     `json:"format,omitempty"`
	Created        *time.Time `json:"created,omitempty"`
	Modified       time.Time  `json:"modified"`
	SourceTool     string     `json:"source_tool,omitempty"`
	TotalItems     int        `json:"total_items"`
	RetrievedCount int        `json:"retrieved_count"`
	ProcessedCount int        `json:"processed_count"`
	SizeKB         float64    `json:"size_kb"`
}

// Listing is the result of List.
type Listing struct {
	Count       int        `json:"count"`
	CacheDir    string     `json:"cache_dir"`
	DaysScanned int        `json:"days_scanned"`
	Files       []FileInfo `json:"files"`
}

// DefaultListDays is the look-back used by List when days is zero.
const DefaultListDays = 7

// List returns cache files modified within the last days, newest first.
// Unreadable files are skipped; untracked files are reported as legacy.
func (c *Cache) List(days int) (*Listing, error) {
	if days <= 0 {
		days = DefaultListDays
	}
	out := &Listing{CacheDir: c.dir, DaysScanned: days, Files: []FileInfo{}}
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		fi := FileInfo{
			Path:     path,
			Name:     e.Name(),
			Modified: info.ModTime().UTC(),
			SizeKB:   math.Round(float64(info.Size())/102.4) / 10,
		}
		f, err := c.load(path)
		switch {
		case err == nil:
			f.recount()
			created := f.Metadata.Created
			fi.Created = &created
			fi.SourceTool = f.Metadata.SourceTool
			fi.TotalItems = f.Metadata.TotalItems
			fi.RetrievedCount = f.Metadata.RetrievedCount
			fi.ProcessedCount = f.Metadata.ProcessedCount
		case isLegacy(err):
			fi.Format = "legacy"
			fi.TotalItems = legacyCount(path)
		default:
			c.logger.Debug("skipping unreadable cache file", "path", path, "error", err)
			continue
		}
		out.Files = append(out.Files, fi)
	}

	sort.SliceStable(out.Files, func(i, j int) bool {
		return sortTime(out.Files[i]).After(sortTime(out.Files[j]))
	})
	out.Count = len(out.Files)
	return out, nil
}

func sortTime(fi FileInfo) time.Time {
	if fi.Created != nil {
		return *fi.Created
	}
	return fi.Modified
}

func isLegacy(err error) bool {
	return errors.Is(err, ErrLegacy)
}

func legacyCount(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0
	}
	return len(items)
}

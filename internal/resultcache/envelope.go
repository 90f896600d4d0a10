package resultcache

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wesm/mailtrail/internal/fileutil"
)

// Envelope is the response shape shared by every listing tool. Items are
// emitted under ItemsKey when inline; filed results carry Preview and
// FullDataFile instead.
type Envelope struct {
	Count            int
	LimitApplied     int
	ResultsTruncated bool
	TotalAvailable   *int

	ItemsKey string
	Items    []Item

	Preview        []Item
	FullDataFile   string
	AutoFiled      bool
	AutoFileReason string

	// OutputFile is set when the payload was written to a caller-chosen
	// path instead of being returned.
	OutputFile string

	// Extra holds tool-specific top-level fields such as participants.
	Extra map[string]any
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		out[k] = v
	}
	out["count"] = e.Count
	out["limit_applied"] = e.LimitApplied
	out["results_truncated"] = e.ResultsTruncated
	if e.TotalAvailable != nil {
		out["total_available"] = *e.TotalAvailable
	}
	switch {
	case e.OutputFile != "":
		out["output_file"] = e.OutputFile
	case e.AutoFiled:
		out["auto_filed"] = true
		out["auto_file_reason"] = e.AutoFileReason
		out["full_data_file"] = e.FullDataFile
		out["preview"] = nonNil(e.Preview)
	default:
		out[e.itemsKey()] = nonNil(e.Items)
	}
	return json.Marshal(out)
}

func (e *Envelope) itemsKey() string {
	if e.ItemsKey == "" {
		return "items"
	}
	return e.ItemsKey
}

func nonNil(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

// Payload is a complete result set handed to Produce.
type Payload struct {
	// SourceTool names the producer; it is recorded in the metadata and
	// prefixes the cache file name.
	SourceTool     string
	ItemsKey       string
	Items          []Item
	Limit          int
	Truncated      bool
	TotalAvailable *int
	Extra          map[string]any
}

// ProduceOptions override the auto-file decision.
type ProduceOptions struct {
	ForceInline bool
	OutputFile  string
	// Threshold overrides the cache's auto-file threshold when positive.
	Threshold int
}

// Produce builds the response envelope for p. Result sets larger than the
// threshold are written to a new tracked cache file and only a preview is
// returned inline.
func (c *Cache) Produce(p Payload, opts ProduceOptions) (*Envelope, error) {
	env := &Envelope{
		Count:            len(p.Items),
		LimitApplied:     p.Limit,
		ResultsTruncated: p.Truncated,
		TotalAvailable:   p.TotalAvailable,
		ItemsKey:         p.ItemsKey,
		Items:            p.Items,
		Extra:            p.Extra,
	}

	if opts.OutputFile != "" {
		path := fileutil.ExpandPath(opts.OutputFile)
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		if err := fileutil.WriteFileAtomic(path, data, fileMode); err != nil {
			return nil, fmt.Errorf("write output file: %w", err)
		}
		env.Items = nil
		env.OutputFile = path
		return env, nil
	}

	threshold := c.threshold
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}
	if opts.ForceInline || len(p.Items) <= threshold {
		return env, nil
	}

	path, err := c.create(p.SourceTool, p.Items)
	if err != nil {
		return nil, err
	}
	n := c.previewSize
	if n > len(p.Items) {
		n = len(p.Items)
	}
	preview := make([]Item, n)
	for i := 0; i < n; i++ {
		preview[i] = p.Items[i].stripped(nil)
	}
	env.Items = nil
	env.Preview = preview
	env.FullDataFile = path
	env.AutoFiled = true
	env.AutoFileReason = fmt.Sprintf("%d results exceed threshold of %d", len(p.Items), threshold)
	c.logger.Info("auto-filed result set", "source_tool", p.SourceTool, "count", len(p.Items), "path", path)
	return env, nil
}

// create writes a new cache file with every flag cleared.
func (c *Cache) create(sourceTool string, items []Item) (string, error) {
	if err := fileutil.MkdirAll(c.dir, dirMode); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	now := c.now().UTC()
	f := &File{
		Metadata: Metadata{Created: now, SourceTool: sourceTool},
		Items:    make([]Item, len(items)),
	}
	for i, it := range items {
		cp := it.stripped(nil)
		cp[flagRetrieved] = false
		cp[flagProcessed] = false
		f.Items[i] = cp
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate cache file name: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%s.json", filePrefix(sourceTool), now.Format("20060102_150405"), hex.EncodeToString(suffix))
	path := filepath.Join(c.dir, name)
	if err := c.save(path, f); err != nil {
		return "", err
	}
	return path, nil
}

func filePrefix(tool string) string {
	tool = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, tool)
	if tool == "" {
		return "results"
	}
	return tool
}

// ToItems converts any JSON-encodable slice into cache items.
func ToItems[T any](values []T) ([]Item, error) {
	items := make([]Item, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode item: %w", err)
		}
		var it Item
		if err := json.Unmarshal(data, &it); err != nil {
			return nil, fmt.Errorf("item is not an object: %w", err)
		}
		items = append(items, it)
	}
	return items, nil
}

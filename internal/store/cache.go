package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CacheKind identifies a debug cache bucket.
type CacheKind string

const (
	CachePages CacheKind = "pages" // raw fetch pages
	CacheLLM   CacheKind = "llm"   // classifier prompt/response pairs
	CacheRuns  CacheKind = "runs"  // per-run stats
)

// LLMExchange represents a prompt/response pair for caching
type LLMExchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	PostID    string    `json:"post_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// Cache writes timestamped JSON dumps under a root directory. A nil Cache
// discards everything.
type Cache struct {
	root string
	now  func() time.Time
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{root: dir, now: time.Now}
}

// Dir returns the directory for a kind.
func (c *Cache) Dir(kind CacheKind) string {
	return filepath.Join(c.root, string(kind))
}

// generateFilename creates a timestamped filename with the given suffix.
func (c *Cache) generateFilename(suffix string) string {
	name := c.now().UTC().Format("2006-01-02T15-04-05.000000000")
	if suffix != "" {
		name += "_" + suffix
	}
	return name + ".json"
}

// Save serializes data to a new file in kind's directory and returns its path.
func (c *Cache) Save(kind CacheKind, suffix string, data any) (string, error) {
	if c == nil {
		return "", nil
	}
	dir := c.Dir(kind)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache dir: %w", err)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	path := filepath.Join(dir, c.generateFilename(suffix))
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write cache entry: %w", err)
	}
	return path, nil
}

// SaveLLMExchange caches a classifier exchange.
func (c *Cache) SaveLLMExchange(ex LLMExchange) (string, error) {
	return c.Save(CacheLLM, ex.PostID, ex)
}

// LatestFile returns the path to the most recent file in kind's directory.
func (c *Cache) LatestFile(kind CacheKind) (string, error) {
	if c == nil {
		return "", fmt.Errorf("cache disabled")
	}
	dir := c.Dir(kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no cached output for %s", kind)
		}
		return "", err
	}

	// os.ReadDir sorts by name, which is chronological for our timestamps
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no cached output for %s", kind)
	}
	return filepath.Join(dir, files[len(files)-1]), nil
}

// LoadJSON loads a cached file into T.
func LoadJSON[T any](path string) (T, error) {
	var data T
	raw, err := os.ReadFile(path)
	if err != nil {
		return data, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return data, nil
}

// LoadLatest loads the most recent entry of kind.
func LoadLatest[T any](c *Cache, kind CacheKind) (T, string, error) {
	var zero T
	path, err := c.LatestFile(kind)
	if err != nil {
		return zero, "", err
	}
	data, err := LoadJSON[T](path)
	if err != nil {
		return zero, "", err
	}
	return data, path, nil
}

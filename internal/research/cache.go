package research

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// cachedContent is one cache record, persisted as JSON on disk.
type cachedContent struct {
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
	TTL       int       `json:"ttl_seconds"`
}

// Cache fronts page fetches with an in-memory hot cache and an optional
// disk tier. Keys are sha256 of the URL.
type Cache struct {
	mu     sync.RWMutex
	dir    string
	ttl    time.Duration
	memory map[string]*cachedContent
}

// NewCache creates a cache. An empty dir disables the disk tier.
func NewCache(dir string, ttl time.Duration) *Cache {
	if dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		memory: make(map[string]*cachedContent),
	}
}

func cacheKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:16])
}

// Get returns cached content for a URL if present and fresh.
func (c *Cache) Get(url string) (string, bool) {
	key := cacheKey(url)

	c.mu.RLock()
	entry, ok := c.memory[key]
	c.mu.RUnlock()

	if !ok && c.dir != "" {
		entry = c.loadFromDisk(key)
		if entry != nil {
			c.mu.Lock()
			c.memory[key] = entry
			c.mu.Unlock()
			ok = true
		}
	}

	if entry == nil || !ok {
		return "", false
	}
	if time.Since(entry.FetchedAt) > time.Duration(entry.TTL)*time.Second {
		return "", false
	}
	return entry.Content, true
}

// Set stores content for a URL in both tiers.
func (c *Cache) Set(url, content string) {
	key := cacheKey(url)
	entry := &cachedContent{
		URL:       url,
		Content:   content,
		FetchedAt: time.Now(),
		TTL:       int(c.ttl.Seconds()),
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	if c.dir != "" {
		if data, err := json.Marshal(entry); err == nil {
			_ = os.WriteFile(filepath.Join(c.dir, key+".json"), data, 0644)
		}
	}
}

func (c *Cache) loadFromDisk(key string) *cachedContent {
	data, err := os.ReadFile(filepath.Join(c.dir, key+".json"))
	if err != nil {
		return nil
	}
	var entry cachedContent
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	return &entry
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wattmonk-ai/rag-gateway/internal/config"
	"github.com/wattmonk-ai/rag-gateway/internal/models"
)

// Service defines response cache operations
type Service interface {
	Get(keyPrefix, question string) (*models.ChatResponse, bool)
	Set(keyPrefix, question string, resp *models.ChatResponse)
	Clear()
}

// ResponseCache memoizes full responses keyed by credential prefix and the
// last user message. Bounded to a fixed entry count with FIFO eviction:
// the oldest inserted key is dropped first. Deliberately not LRU.
type ResponseCache struct {
	enabled bool
	maxSize int
	logger  *logrus.Logger

	mu      sync.Mutex
	entries map[string]*models.ChatResponse
	// order holds keys oldest-first; eviction pops the head.
	order []string
}

// NewResponseCache creates a new response cache service
func NewResponseCache(cfg *config.CacheConfig, logger *logrus.Logger) Service {
	if !cfg.Enabled {
		return &ResponseCache{enabled: false}
	}

	return &ResponseCache{
		enabled: true,
		maxSize: cfg.MaxEntries,
		logger:  logger,
		entries: make(map[string]*models.ChatResponse),
	}
}

// Get retrieves a cached response
func (c *ResponseCache) Get(keyPrefix, question string) (*models.ChatResponse, bool) {
	if !c.enabled {
		return nil, false
	}

	key := generateKey(keyPrefix, question)

	c.mu.Lock()
	defer c.mu.Unlock()

	resp, found := c.entries[key]
	if found {
		c.logger.WithField("key_prefix", keyPrefix).Debug("Cache hit")
	}
	return resp, found
}

// Set stores a response, evicting the oldest inserted entry when over
// capacity. Overwriting an existing key keeps its original position.
func (c *ResponseCache) Set(keyPrefix, question string, resp *models.ChatResponse) {
	if !c.enabled {
		return
	}

	key := generateKey(keyPrefix, question)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = resp
		return
	}

	c.entries[key] = resp
	c.order = append(c.order, key)

	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.WithField("evicted", oldest[:8]).Debug("Cache entry evicted")
	}
}

// Clear removes all cached entries
func (c *ResponseCache) Clear() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*models.ChatResponse)
	c.order = nil
	c.logger.Info("Response cache cleared")
}

// generateKey creates a unique cache key
func generateKey(keyPrefix, question string) string {
	data := fmt.Sprintf("%s:%s", keyPrefix, question)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

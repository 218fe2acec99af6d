package pipeline

import (
	"strings"
	"sync"
	"time"
)

type cachedAssessment struct {
	result   *AssessmentResult
	cachedAt time.Time
}

// AssessmentCache memoizes assessment outcomes for repeated questions
// so identical requests skip the classification call while the entry
// is fresh.
type AssessmentCache struct {
	cache map[string]*cachedAssessment
	mu    sync.RWMutex
	ttl   time.Duration
}

// NewAssessmentCache creates a cache with the given TTL and starts the
// background sweep.
func NewAssessmentCache(ttl time.Duration) *AssessmentCache {
	c := &AssessmentCache{
		cache: make(map[string]*cachedAssessment),
		ttl:   ttl,
	}
	go c.cleanup()
	return c
}

// Get returns a cached assessment if still fresh.
func (c *AssessmentCache) Get(question string) (*AssessmentResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.cache[normalizeQuestion(question)]; ok {
		if time.Since(entry.cachedAt) < c.ttl {
			return entry.result, true
		}
	}
	return nil, false
}

// Set stores an assessment outcome.
func (c *AssessmentCache) Set(question string, result *AssessmentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[normalizeQuestion(question)] = &cachedAssessment{
		result:   result,
		cachedAt: time.Now(),
	}
}

func (c *AssessmentCache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, entry := range c.cache {
			if now.Sub(entry.cachedAt) > c.ttl {
				delete(c.cache, key)
			}
		}
		c.mu.Unlock()
	}
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

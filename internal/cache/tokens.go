// Package cache keeps recently signed image tokens so hot batch reloads
// (a reader paging through a chapter) don't re-sign the same paths. The
// cache window is shorter than the token TTL, so a cached token always
// has useful life left; entries expire lazily on read.
package cache

import (
	"sync"
	"time"
)

type item struct {
	token     string
	expiresAt time.Time
}

type TokenCache struct {
	mu    sync.RWMutex
	items map[string]item
}

func NewTokenCache() *TokenCache {
	return &TokenCache{items: make(map[string]item)}
}

func key(subjectID, imagePath string) string {
	return subjectID + "\x00" + imagePath
}

func (c *TokenCache) Get(subjectID, imagePath string) (string, bool) {
	c.mu.RLock()
	it, ok := c.items[key(subjectID, imagePath)]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(it.expiresAt) {
		c.mu.Lock()
		delete(c.items, key(subjectID, imagePath))
		c.mu.Unlock()
		return "", false
	}
	return it.token, true
}

func (c *TokenCache) Put(subjectID, imagePath, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key(subjectID, imagePath)] = item{
		token:     token,
		expiresAt: time.Now().Add(ttl),
	}
}

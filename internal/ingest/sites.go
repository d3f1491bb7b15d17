package ingest

import (
	"context"
	"strings"
	"sync"
)

type siteResolver interface {
	ResolveOrCreateSite(ctx context.Context, clientID, siteName, createdBy string) (string, error)
}

type siteKey struct {
	clientID string
	name     string
}

// siteCache memoizes site resolution for the lifetime of one ingestion call.
type siteCache struct {
	gw  siteResolver
	ids map[siteKey]string
}

func newSiteCache(gw siteResolver) *siteCache {
	return &siteCache{gw: gw, ids: make(map[siteKey]string)}
}

func (c *siteCache) resolve(ctx context.Context, clientID, siteName, createdBy string) (string, error) {
	key := siteKey{clientID: clientID, name: strings.TrimSpace(siteName)}
	if id, ok := c.ids[key]; ok {
		return id, nil
	}
	id, err := c.gw.ResolveOrCreateSite(ctx, clientID, key.name, createdBy)
	if err != nil {
		return "", err
	}
	c.ids[key] = id
	return id, nil
}

// scopeLocks serializes ingestions that target the same client, site and day.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns its release function.
func (l *scopeLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*scopeLock)
	}
	sl, ok := l.locks[key]
	if !ok {
		sl = &scopeLock{}
		l.locks[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

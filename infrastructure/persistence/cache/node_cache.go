// Package cache provides a read-through node cache in front of the graph
// repository. The embedded engine is fast, but agent workloads re-read the
// same hot nodes between traversals; a short TTL keeps the cache honest
// against writers on other instances.
package cache

import (
	"context"
	"sync"
	"time"

	"meshmind-backend/application/ports"
	"meshmind-backend/domain/graph"
)

type cacheItem struct {
	node      *graph.Node
	expiresAt time.Time
}

// CachedGraphRepository wraps a GraphRepository with a TTL node cache.
// Only GetNode is cached; traversals and listings always hit the store.
// Local writes invalidate eagerly, TTL covers writes from other instances.
type CachedGraphRepository struct {
	ports.GraphRepository

	mu    sync.RWMutex
	items map[string]cacheItem
	ttl   time.Duration

	stop chan struct{}
	once sync.Once
}

// NewCachedGraphRepository wraps repo with a node cache of the given TTL
func NewCachedGraphRepository(repo ports.GraphRepository, ttl time.Duration) *CachedGraphRepository {
	c := &CachedGraphRepository{
		GraphRepository: repo,
		items:           make(map[string]cacheItem),
		ttl:             ttl,
		stop:            make(chan struct{}),
	}
	go c.cleanupExpired()
	return c
}

func cacheKey(tenantID graph.TenantID, nodeID string) string {
	return tenantID.String() + "\x00" + nodeID
}

// GetNode serves from cache within the TTL, falling through to the store
func (c *CachedGraphRepository) GetNode(ctx context.Context, tenantID graph.TenantID, nodeID string) (*graph.Node, error) {
	key := cacheKey(tenantID, nodeID)

	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(item.expiresAt) {
		return item.node, nil
	}

	node, err := c.GraphRepository.GetNode(ctx, tenantID, nodeID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items[key] = cacheItem{node: node, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return node, nil
}

// UpsertNode writes through and invalidates the cached entry
func (c *CachedGraphRepository) UpsertNode(ctx context.Context, tenantID graph.TenantID, node *graph.Node) (string, error) {
	id, err := c.GraphRepository.UpsertNode(ctx, tenantID, node)
	if err == nil {
		c.invalidate(tenantID, node.ID)
	}
	return id, err
}

// DeleteNode writes through and invalidates the cached entry. The cascade
// only touches rows reachable from the node, so one invalidation suffices.
func (c *CachedGraphRepository) DeleteNode(ctx context.Context, tenantID graph.TenantID, nodeID string) error {
	err := c.GraphRepository.DeleteNode(ctx, tenantID, nodeID)
	if err == nil {
		c.invalidate(tenantID, nodeID)
	}
	return err
}

// ApplyBatch writes through and invalidates every node the batch touched
func (c *CachedGraphRepository) ApplyBatch(ctx context.Context, tenantID graph.TenantID, batch ports.WriteBatch) error {
	err := c.GraphRepository.ApplyBatch(ctx, tenantID, batch)
	if err == nil {
		for _, node := range batch.Nodes {
			c.invalidate(tenantID, node.ID)
		}
	}
	return err
}

// Flush drops every cached entry. Called after hydration and restore, when
// the whole local image may have changed underneath the cache.
func (c *CachedGraphRepository) Flush() {
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.mu.Unlock()
}

// Close stops the background cleanup
func (c *CachedGraphRepository) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *CachedGraphRepository) invalidate(tenantID graph.TenantID, nodeID string) {
	c.mu.Lock()
	delete(c.items, cacheKey(tenantID, nodeID))
	c.mu.Unlock()
}

// cleanupExpired periodically removes expired items
func (c *CachedGraphRepository) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, item := range c.items {
				if now.After(item.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

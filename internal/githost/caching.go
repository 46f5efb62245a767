package githost

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// CachingClient wraps a Client with a ContentCache. Negative results are
// not cached; a retried run should see a repository that appeared since
// the last attempt.
type CachingClient struct {
	client  Client
	cache   ContentCache
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCachingClient wraps the given client.
func NewCachingClient(client Client, cache ContentCache, logger *zap.Logger, metrics *observability.Metrics) *CachingClient {
	return &CachingClient{client: client, cache: cache, logger: logger, metrics: metrics}
}

// GetRepo implements Client.
func (c *CachingClient) GetRepo(ctx context.Context, owner, name string) (*model.RepositoryMeta, error) {
	key := fmt.Sprintf("repo:%s/%s", owner, name)
	if data, ok := c.lookup(ctx, "repo", key); ok {
		var meta model.RepositoryMeta
		if err := json.Unmarshal(data, &meta); err == nil {
			return &meta, nil
		}
	}

	meta, err := c.client.GetRepo(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(meta); err == nil {
		c.store(ctx, key, data)
	}
	return meta, nil
}

// GetFile implements Client.
func (c *CachingClient) GetFile(ctx context.Context, owner, name, path string) (string, error) {
	key := fmt.Sprintf("file:%s/%s:%s", owner, name, path)
	if data, ok := c.lookup(ctx, "file", key); ok {
		return string(data), nil
	}

	content, err := c.client.GetFile(ctx, owner, name, path)
	if err != nil {
		return "", err
	}
	c.store(ctx, key, []byte(content))
	return content, nil
}

// ListDir implements Client.
func (c *CachingClient) ListDir(ctx context.Context, owner, name, path string) ([]Entry, error) {
	key := fmt.Sprintf("dir:%s/%s:%s", owner, name, path)
	if data, ok := c.lookup(ctx, "dir", key); ok {
		var entries []Entry
		if err := json.Unmarshal(data, &entries); err == nil {
			return entries, nil
		}
	}

	entries, err := c.client.ListDir(ctx, owner, name, path)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		c.store(ctx, key, data)
	}
	return entries, nil
}

func (c *CachingClient) lookup(ctx context.Context, kind, key string) ([]byte, bool) {
	_, span := observability.StartSpan(ctx, "cache.lookup")
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		observability.EndSpanWithError(span, err)
		c.logger.Warn("content cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(ok))
	span.End()
	if c.metrics != nil {
		if ok {
			c.metrics.RecordCacheHit(kind)
		} else {
			c.metrics.RecordCacheMiss(kind)
		}
	}
	return data, ok
}

func (c *CachingClient) store(ctx context.Context, key string, value []byte) {
	if err := c.cache.Set(ctx, key, value); err != nil {
		c.logger.Warn("content cache write failed", zap.String("key", key), zap.Error(err))
	}
}

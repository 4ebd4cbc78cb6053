package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"drover/internal/agent/ports"
	"drover/pkg/types"
)

const (
	defaultCacheMaxSize = 256
	defaultCacheTTL     = 5 * time.Minute
)

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	// MaxSize is the maximum number of entries in the LRU cache.
	MaxSize int
	// TTL is how long a cached result remains valid.
	TTL time.Duration
	// ExcludeTools lists tool names that must never be cached.
	ExcludeTools []string
}

// DefaultCacheConfig excludes every tool that mutates the workspace.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: defaultCacheMaxSize,
		TTL:     defaultCacheTTL,
		ExcludeTools: []string{
			"write_file",
			"delete_file",
			"run_command",
			"apply_patch",
		},
	}
}

type cacheEntry struct {
	content  string
	metadata map[string]any
	storedAt time.Time
}

// cachedRunner is a ToolRunner decorator that caches results keyed by
// tool name plus normalized arguments. It sits in front of the real
// runner the way any other decorator would.
type cachedRunner struct {
	delegate ports.ToolRunner
	cache    *lru.Cache[string, cacheEntry]
	ttl      time.Duration
	exclude  map[string]bool
}

// NewCachedRunner wraps delegate with an LRU result cache. Zero config
// values fall back to DefaultCacheConfig.
func NewCachedRunner(delegate ports.ToolRunner, config CacheConfig) ports.ToolRunner {
	if delegate == nil {
		return nil
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultCacheMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](config.MaxSize)
	if err != nil {
		// lru.New only errors on a non-positive size, guarded above.
		return delegate
	}
	exclude := make(map[string]bool, len(config.ExcludeTools))
	for _, name := range config.ExcludeTools {
		exclude[strings.TrimSpace(name)] = true
	}
	return &cachedRunner{
		delegate: delegate,
		cache:    cache,
		ttl:      config.TTL,
		exclude:  exclude,
	}
}

func (c *cachedRunner) RunTool(ctx context.Context, call types.ToolCall) (*types.ToolResult, error) {
	if c.exclude[strings.TrimSpace(call.Name)] {
		return c.delegate.RunTool(ctx, call)
	}

	key := cacheKey(call)
	if entry, ok := c.cache.Get(key); ok {
		if time.Since(entry.storedAt) < c.ttl {
			return &types.ToolResult{
				CallID:   call.ID,
				Content:  entry.content,
				Metadata: cloneMetadata(entry.metadata),
			}, nil
		}
		c.cache.Remove(key)
	}

	result, err := c.delegate.RunTool(ctx, call)
	if err != nil {
		return result, err
	}
	// Error results are not cached.
	if result != nil && result.Error == nil {
		c.cache.Add(key, cacheEntry{
			content:  result.Content,
			metadata: cloneMetadata(result.Metadata),
			storedAt: time.Now(),
		})
	}
	return result, nil
}

func (c *cachedRunner) Tools() []string {
	return c.delegate.Tools()
}

// cacheKey builds a deterministic key from the tool name and arguments.
// json.Marshal emits map keys in sorted order, so equal argument maps
// produce equal keys.
func cacheKey(call types.ToolCall) string {
	args := "{}"
	if len(call.Arguments) > 0 {
		if data, err := json.Marshal(call.Arguments); err == nil {
			args = string(data)
		}
	}
	return fmt.Sprintf("%s:%s", strings.TrimSpace(call.Name), args)
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

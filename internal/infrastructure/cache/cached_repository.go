package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/duragraph/duragraph/internal/compiler/instr"
)

// CompiledServiceReader is the read side of the compiled-plan store this
// cache fronts, implemented by compiler/persistence/postgres.
type CompiledServiceReader interface {
	FindByServiceAndVersion(ctx context.Context, graphID, service, version string) (*instr.ServiceHandler, error)
}

// CachedCompiledServiceRepository wraps the compiled-plan store with Redis:
// a worker reloading its plan on every service-compiled message would
// otherwise hit Postgres once per service per deploy.
type CachedCompiledServiceRepository struct {
	reader CompiledServiceReader
	cache  *RedisCache
	ttl    time.Duration
}

// NewCachedCompiledServiceRepository creates a cached compiled-plan reader
func NewCachedCompiledServiceRepository(reader CompiledServiceReader, cache *RedisCache, ttl time.Duration) *CachedCompiledServiceRepository {
	if ttl == 0 {
		ttl = 5 * time.Minute // Default TTL
	}

	return &CachedCompiledServiceRepository{
		reader: reader,
		cache:  cache,
		ttl:    ttl,
	}
}

func compiledKey(graphID, service, version string) string {
	return fmt.Sprintf("compiled:%s:%s:%s", graphID, service, version)
}

// FindByServiceAndVersion retrieves a compiled plan, trying Redis first.
// ServiceHandler trees are plain data so they round-trip through JSON
// without custom serialization.
func (r *CachedCompiledServiceRepository) FindByServiceAndVersion(ctx context.Context, graphID, service, version string) (*instr.ServiceHandler, error) {
	key := compiledKey(graphID, service, version)

	if data, err := r.cache.GetString(ctx, key); err == nil {
		var handler instr.ServiceHandler
		if err := json.Unmarshal([]byte(data), &handler); err == nil {
			return &handler, nil
		}
		// Corrupt entry: drop it and fall through to the database.
		r.cache.Delete(ctx, key)
	}

	handler, err := r.reader.FindByServiceAndVersion(ctx, graphID, service, version)
	if err != nil {
		return nil, err
	}

	r.cache.Set(ctx, key, handler, r.ttl)
	return handler, nil
}

// Invalidate drops the cached plan for one compiled service, called after
// a recompile upserts a new tree for the same version.
func (r *CachedCompiledServiceRepository) Invalidate(ctx context.Context, graphID, service, version string) error {
	return r.cache.Delete(ctx, compiledKey(graphID, service, version))
}

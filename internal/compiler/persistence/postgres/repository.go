// Package postgres persists compiled ServiceHandler trees as JSONB rows
// through a pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/pkg/errors"
)

// CompiledServiceRepository stores one row per (graph, service, version):
// the full ServiceHandler tree as JSONB, keyed for the worker bridge and
// HTTP surface to fetch the latest compiled plan for a service.
type CompiledServiceRepository struct {
	pool *pgxpool.Pool
}

// NewCompiledServiceRepository wraps an existing pool; callers share the
// same pool cmd/server already opens for the rest of the aggregates.
func NewCompiledServiceRepository(pool *pgxpool.Pool) *CompiledServiceRepository {
	return &CompiledServiceRepository{pool: pool}
}

// Save upserts the compiled handler for (graphID, handler.Service, version).
func (r *CompiledServiceRepository) Save(ctx context.Context, graphID, version string, handler *instr.ServiceHandler) error {
	payload, err := json.Marshal(handler)
	if err != nil {
		return errors.Internal("failed to marshal compiled service", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO compiled_services (graph_id, service, version, handler, compiled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (graph_id, service, version)
		DO UPDATE SET handler = EXCLUDED.handler, compiled_at = EXCLUDED.compiled_at
	`, graphID, handler.Service, version, payload, time.Now())
	if err != nil {
		return errors.Internal("failed to save compiled service", err)
	}
	return nil
}

// FindByServiceAndVersion loads the most recently compiled handler for a
// service at a given version of a graph.
func (r *CompiledServiceRepository) FindByServiceAndVersion(ctx context.Context, graphID, service, version string) (*instr.ServiceHandler, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT handler FROM compiled_services
		WHERE graph_id = $1 AND service = $2 AND version = $3
	`, graphID, service, version).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("compiled_service", service+"@"+version)
		}
		return nil, errors.Internal("failed to query compiled service", err)
	}

	var handler instr.ServiceHandler
	if err := json.Unmarshal(payload, &handler); err != nil {
		return nil, errors.Internal("failed to unmarshal compiled service", err)
	}
	return &handler, nil
}

// DeleteByGraph removes every compiled service belonging to a graph, used
// when a graph is deleted or recompiled from scratch.
func (r *CompiledServiceRepository) DeleteByGraph(ctx context.Context, graphID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM compiled_services WHERE graph_id = $1`, graphID)
	if err != nil {
		return errors.Internal("failed to delete compiled services", err)
	}
	return nil
}

package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/instr"
	"github.com/duragraph/duragraph/internal/compiler/ir"
	"github.com/duragraph/duragraph/internal/domain/compilation"
	"github.com/duragraph/duragraph/internal/infrastructure/monitoring"
	"github.com/duragraph/duragraph/internal/pkg/errors"
	"github.com/duragraph/duragraph/internal/pkg/eventbus"
	"github.com/duragraph/duragraph/internal/pkg/uuid"
)

var tracer = otel.Tracer("duragraph/flowc")

// CompiledServiceStore is the persistence boundary for compiled
// ServiceHandler trees, implemented by internal/compiler/persistence/postgres.
type CompiledServiceStore interface {
	Save(ctx context.Context, graphID, version string, handler *instr.ServiceHandler) error
}

// CompilePublisher announces a freshly compiled service so subscribed
// workers can hot-reload their cached plan.
type CompilePublisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// CompileService orchestrates service-handler synthesis over a (possibly
// multi-service) graph submitted via the HTTP surface: each service
// is schedule-independent, so distinct services compile concurrently under
// an errgroup while each one's own scheduling stays single-threaded.
type CompileService struct {
	cfg       *config.Config
	store     CompiledServiceStore
	publisher CompilePublisher
	eventBus  *eventbus.EventBus
	metrics   *monitoring.Metrics
}

// NewCompileService wires the compiler's ambient stack: config, an
// optional persistence store and message publisher (both nil-able for
// callers that only want the in-memory result), the event bus, and
// metrics.
func NewCompileService(
	cfg *config.Config,
	store CompiledServiceStore,
	publisher CompilePublisher,
	eventBus *eventbus.EventBus,
	metrics *monitoring.Metrics,
) *CompileService {
	return &CompileService{cfg: cfg, store: store, publisher: publisher, eventBus: eventBus, metrics: metrics}
}

// CompileGraphRequest names the graph a batch of services was produced
// from, for persistence keys and published events.
type CompileGraphRequest struct {
	GraphID  string
	Version  string
	Services []ir.ServiceGraph
}

// CompileGraph compiles every service in req.Services concurrently and
// returns the resulting ServiceHandler trees keyed by service name. The
// first service to fail makes the whole call fail with its error, and the
// errgroup cancels its derived context; the other services' in-memory
// compilation does not observe that context and runs to completion, while
// their persist and publish steps receive the cancelled context.
func (s *CompileService) CompileGraph(ctx context.Context, req CompileGraphRequest) (map[string]*instr.ServiceHandler, error) {
	compileID := uuid.New()
	ctx, span := tracer.Start(ctx, "flowc.compile_graph", trace.WithAttributes(
		attribute.String("compile.id", compileID),
		attribute.String("graph.id", req.GraphID),
		attribute.Int("graph.service_count", len(req.Services)),
	))
	defer span.End()

	results := make([]*instr.ServiceHandler, len(req.Services))
	g, gctx := errgroup.WithContext(ctx)

	for i, sg := range req.Services {
		i, sg := i, sg
		g.Go(func() error {
			handler, err := s.compileOne(gctx, req.GraphID, req.Version, sg)
			if err != nil {
				return err
			}
			results[i] = handler
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make(map[string]*instr.ServiceHandler, len(results))
	for _, h := range results {
		out[h.Service] = h
	}
	return out, nil
}

// compileOne runs the schedule/hoist/lower pipeline for one service, then
// persists and publishes it; each step is individually timed/traced so a
// slow schedule vs. a slow DB write are distinguishable in CompileDuration.
func (s *CompileService) compileOne(ctx context.Context, graphID, version string, sg ir.ServiceGraph) (*instr.ServiceHandler, error) {
	ctx, span := tracer.Start(ctx, "flowc.compile_service", trace.WithAttributes(
		attribute.String("service.name", sg.Service),
	))
	defer span.End()

	start := time.Now()
	handler, err := ir.Compile(sg, s.cfg)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if derr, ok := err.(*errors.DomainError); ok && derr.Code == "SCHEDULE_CYCLE" {
			outcome = "cycle"
			if s.eventBus != nil {
				s.eventBus.Publish(ctx, compilation.ScheduleCycleFound{
					Service: sg.Service, GraphID: graphID, Reason: derr.Message, FoundAt: time.Now(),
				})
			}
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCompile(sg.Service, outcome, duration)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.store != nil {
		storeCtx, spanStore := tracer.Start(ctx, "flowc.persist_service")
		err := s.store.Save(storeCtx, graphID, version, handler)
		spanStore.End()
		if err != nil {
			return nil, err
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(ctx, compilation.ServiceCompiled{
			Service:        sg.Service,
			GraphID:        graphID,
			Version:        version,
			FlowHandlerCnt: len(handler.FlowHandlers),
			CompiledAt:     time.Now(),
		})
	}
	if s.publisher != nil {
		announcement := compilation.CompiledAnnouncement{
			GraphID: graphID,
			Service: sg.Service,
			Version: version,
			Handler: handler,
		}
		if err := s.publisher.Publish(ctx, "duragraph.compiler.service-compiled", announcement); err != nil {
			return nil, errors.Internal("failed to publish compiled service", err)
		}
	}

	return handler, nil
}

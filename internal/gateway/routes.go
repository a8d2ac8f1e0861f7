package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/conductor/internal/catalog"
	"github.com/soyeahso/conductor/internal/domain"
	"github.com/soyeahso/conductor/internal/version"
)

// Coordinator is the operation surface the gateway exposes.
// *coordinator.Coordinator satisfies it.
type Coordinator interface {
	GetAgentCatalog() catalog.Snapshot
	GetAgent(name string) (domain.AgentDefinition, error)
	GetRoutingRecommendation(req domain.RoutingRequest) domain.RoutingRecommendation
	InvokeAgent(ctx context.Context, params domain.InvokeAgentParams) (domain.InvocationRecord, error)
	GetInvocation(ctx context.Context, id string) (domain.InvocationRecord, error)
	WaitInvocation(ctx context.Context, id string) (domain.InvocationRecord, error)
	TrackHandoff(ctx context.Context, params domain.TrackHandoffParams) (domain.HandoffRecord, error)
	ListHandoffs(ctx context.Context, filter domain.HandoffFilter) ([]domain.HandoffRecord, error)
	StartParallelExecution(ctx context.Context, params domain.StartParallelParams) (domain.StartParallelResult, error)
	AggregateParallelResults(ctx context.Context, params domain.AggregateParams) (domain.AggregateResult, error)
	ResolveConflict(ctx context.Context, params domain.ResolveConflictParams) (domain.ResolveConflictResult, error)
}

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.cfg.Metrics && s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("catalog.get", s.rpcCatalogGet)
	s.Handle("catalog.agent", s.rpcCatalogAgent)
	s.Handle("routing.recommend", s.rpcRoutingRecommend)
	s.Handle("agent.invoke", s.rpcAgentInvoke)
	s.Handle("invocation.get", s.rpcInvocationGet)
	s.Handle("handoff.track", s.rpcHandoffTrack)
	s.Handle("handoff.list", s.rpcHandoffList)
	s.Handle("parallel.start", s.rpcParallelStart)
	s.Handle("parallel.aggregate", s.rpcParallelAggregate)
	s.Handle("conflict.resolve", s.rpcConflictResolve)
}

// decode reads params into target and replies invalid_params on failure.
func decode(rc *RequestContext, target any) bool {
	if err := rc.Params(target); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return false
	}
	return true
}

// reply sends v, or the domain error.
func reply[T any](rc *RequestContext, v T, err error) {
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(v)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	var uptime int64
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt).Milliseconds()
	}
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  version.Version,
		Clients:  s.clients.Count(),
		UptimeMs: uptime,
	})
}

func (s *Server) rpcCatalogGet(rc *RequestContext) {
	rc.Respond(s.coord.GetAgentCatalog())
}

type agentParams struct {
	Name string `json:"name"`
}

func (s *Server) rpcCatalogAgent(rc *RequestContext) {
	var p agentParams
	if !decode(rc, &p) {
		return
	}
	if p.Name == "" {
		rc.RespondError(CodeInvalidParams, "name is required")
		return
	}
	def, err := s.coord.GetAgent(p.Name)
	reply(rc, def, err)
}

func (s *Server) rpcRoutingRecommend(rc *RequestContext) {
	var p domain.RoutingRequest
	if !decode(rc, &p) {
		return
	}
	if p.Task == "" {
		rc.RespondError(CodeInvalidParams, "task is required")
		return
	}
	rc.Respond(s.coord.GetRoutingRecommendation(p))
}

func (s *Server) rpcAgentInvoke(rc *RequestContext) {
	var p domain.InvokeAgentParams
	if !decode(rc, &p) {
		return
	}
	rec, err := s.coord.InvokeAgent(rc.Context(), p)
	reply(rc, rec, err)
}

type invocationGetParams struct {
	InvocationID string `json:"invocation_id"`
	WaitMs       int    `json:"wait_ms,omitempty"`
}

// rpcInvocationGet returns the record, optionally waiting up to wait_ms for
// a terminal state. An expired wait returns the current record.
func (s *Server) rpcInvocationGet(rc *RequestContext) {
	var p invocationGetParams
	if !decode(rc, &p) {
		return
	}
	if p.InvocationID == "" {
		rc.RespondError(CodeInvalidParams, "invocation_id is required")
		return
	}
	if p.WaitMs <= 0 {
		rec, err := s.coord.GetInvocation(rc.Context(), p.InvocationID)
		reply(rc, rec, err)
		return
	}

	ctx, cancel := context.WithTimeout(rc.Context(), time.Duration(p.WaitMs)*time.Millisecond)
	defer cancel()
	rec, err := s.coord.WaitInvocation(ctx, p.InvocationID)
	if errors.Is(err, domain.ErrTimeout) {
		err = nil
	}
	reply(rc, rec, err)
}

func (s *Server) rpcHandoffTrack(rc *RequestContext) {
	var p domain.TrackHandoffParams
	if !decode(rc, &p) {
		return
	}
	rec, err := s.coord.TrackHandoff(rc.Context(), p)
	reply(rc, rec, err)
}

func (s *Server) rpcHandoffList(rc *RequestContext) {
	var p domain.HandoffFilter
	if !decode(rc, &p) {
		return
	}
	recs, err := s.coord.ListHandoffs(rc.Context(), p)
	if recs == nil {
		recs = []domain.HandoffRecord{}
	}
	reply(rc, map[string]any{"handoffs": recs}, err)
}

func (s *Server) rpcParallelStart(rc *RequestContext) {
	var p domain.StartParallelParams
	if !decode(rc, &p) {
		return
	}
	res, err := s.coord.StartParallelExecution(rc.Context(), p)
	reply(rc, res, err)
}

func (s *Server) rpcParallelAggregate(rc *RequestContext) {
	var p domain.AggregateParams
	if !decode(rc, &p) {
		return
	}
	res, err := s.coord.AggregateParallelResults(rc.Context(), p)
	reply(rc, res, err)
}

func (s *Server) rpcConflictResolve(rc *RequestContext) {
	var p domain.ResolveConflictParams
	if !decode(rc, &p) {
		return
	}
	res, err := s.coord.ResolveConflict(rc.Context(), p)
	reply(rc, res, err)
}

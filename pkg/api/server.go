// coflow HTTP/WebSocket API server — the single ingress for draft editing,
// workflow publishing, execution triggering, and webhook delivery.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/coflow/coflow/pkg/config"
	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/engine"
	"github.com/coflow/coflow/pkg/logger"
	"github.com/coflow/coflow/pkg/observability"
	"github.com/coflow/coflow/pkg/presence"
	"github.com/coflow/coflow/pkg/pubsub"
	"github.com/coflow/coflow/pkg/steptype"
	"github.com/coflow/coflow/pkg/supervisor"
	"github.com/coflow/coflow/pkg/template"
)

const component = "api"

// Server is coflow's HTTP API server: workflow CRUD, the edit-session sync
// protocol, execution triggering, and webhook ingestion, all backed by the
// supervisor/editsession/engine/persistence packages.
type Server struct {
	cfg *config.Config

	sup        *supervisor.Supervisor
	draftRepo  workflow.DraftRepository
	versionRepo workflow.VersionRepository
	execRepo   workflow.ExecutionRepository

	registry steptype.Registry
	tmpl     *template.Engine
	hooks    *observability.Hooks
	eng      *engine.Engine

	bus      *pubsub.Bus
	presence *presence.Tracker
	eventBus domain.EventBus

	startTime time.Time
	server    *http.Server
}

// NewServer wires a Server over the already-constructed subsystems. None of
// its dependencies are optional — a coflow instance always has a full
// persistence + editsession + engine stack. eventBus may be nil, in which
// case domain events are recorded on their aggregates but never published.
func NewServer(
	cfg *config.Config,
	sup *supervisor.Supervisor,
	draftRepo workflow.DraftRepository,
	versionRepo workflow.VersionRepository,
	execRepo workflow.ExecutionRepository,
	registry steptype.Registry,
	tmpl *template.Engine,
	hooks *observability.Hooks,
	bus *pubsub.Bus,
	presenceTracker *presence.Tracker,
	eventBus domain.EventBus,
) *Server {
	return &Server{
		cfg:         cfg,
		sup:         sup,
		draftRepo:   draftRepo,
		versionRepo: versionRepo,
		execRepo:    execRepo,
		registry:    registry,
		tmpl:        tmpl,
		hooks:       hooks,
		eng: engine.NewEngine(registry, tmpl,
			engine.WithHooks(hooks),
			engine.WithMaxConcurrency(cfg.Engine.MaxConcurrency),
			engine.WithStepTimeout(cfg.Engine.StepTimeout),
		),
		bus:         bus,
		presence:    presenceTracker,
		eventBus:    eventBus,
		startTime:   time.Now(),
	}
}

// publishEvents drains the domain events pending on an aggregate (once its
// state is durably persisted) to the server's event bus, if one is
// configured.
func (s *Server) publishEvents(agg interface {
	PullEvents() []domain.Event
}) {
	if s.eventBus == nil {
		return
	}
	for _, e := range agg.PullEvents() {
		s.eventBus.Publish(e)
	}
}

// Start registers every route and begins listening. It returns once the
// listener goroutine has been launched; call Stop to shut down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/publish", s.handlePublishWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/sync", s.handleSyncWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/operations", s.handleApplyOperation)
	mux.HandleFunc("GET /api/workflows/{id}/ws", s.handleWorkflowWebSocket)

	mux.HandleFunc("POST /api/workflows/{id}/executions", s.handleCreateExecution)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/executions/{id}/ws", s.handleExecutionWebSocket)

	mux.HandleFunc("POST /api/hook-test/{path}", s.handleHookTest)
	mux.HandleFunc("POST /api/hooks/{path}", s.handleHook)

	addr := s.cfg.Server.Addr
	s.server = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(s.cfg.Server.AllowedOrigins, authMiddleware(s.cfg.Server.APIBearerTokens, mux)),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF(component, "api server starting", map[string]interface{}{"addr": addr})

	go s.presence.Sweep(ctx, 0)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF(component, "server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to five seconds for
// in-flight requests (and upgraded WebSocket connections) to finish.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		"uptime_human":    formatDuration(time.Since(s.startTime)),
		"hostname":        hostname,
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"active_sessions": s.sup.ActiveSessionCount(),
		"connections":     s.presence.Count(),
	})
}

// --- helpers shared by the handler files ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// statusForWorkflowError maps the session/domain sentinel errors raised by
// edit-session operation validation to the HTTP status a client should see.
func statusForWorkflowError(err error) int {
	switch err {
	case workflow.ErrDraftNotFound, workflow.ErrVersionNotFound, workflow.ErrExecutionNotFound,
		workflow.ErrStepNotFound, workflow.ErrConnectionNotFound, workflow.ErrSourceStepNotFound,
		workflow.ErrTargetStepNotFound:
		return http.StatusNotFound
	case workflow.ErrStepAlreadyExists, workflow.ErrConnectionExists, workflow.ErrSelfLoopNotAllowed,
		workflow.ErrWouldCreateCycle, workflow.ErrEmptyName, workflow.ErrExecutionTerminal:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

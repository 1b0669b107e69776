// Command coflowd runs the coflow server: it loads configuration, opens the
// persistence layer, wires the editsession/engine/observability stack, and
// serves the HTTP/WebSocket API until interrupted.
//
// Grounded on the teacher's verify_moonshot.go, the only process-entrypoint
// precedent in the teacher repo — a flat main() hand-constructing a
// config.Config and wiring providers directly, with no separate composition
// type. coflow generalizes that shape across its larger dependency graph
// (persistence, pubsub, supervisor, engine, observability, presence, api)
// rather than introducing a pkg/app-style Container, since none of those
// subsystems are optional or swappable at runtime the way picoclaw's
// provider/channel registrations are.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/coflow/coflow/pkg/api"
	"github.com/coflow/coflow/pkg/config"
	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/eventbus"
	"github.com/coflow/coflow/pkg/logger"
	"github.com/coflow/coflow/pkg/observability"
	"github.com/coflow/coflow/pkg/persistence/sqlstore"
	"github.com/coflow/coflow/pkg/presence"
	"github.com/coflow/coflow/pkg/pubsub"
	"github.com/coflow/coflow/pkg/steptype"
	"github.com/coflow/coflow/pkg/steptype/builtins"
	"github.com/coflow/coflow/pkg/supervisor"
	"github.com/coflow/coflow/pkg/template"
)

const observabilityQueueCapacity = 1024

func main() {
	configPath := flag.String("config", os.Getenv("COFLOW_CONFIG"), "path to coflow YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coflowd: %v\n", err)
		os.Exit(1)
	}

	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	db, err := sqlstore.Open(cfg.Database.DSN)
	if err != nil {
		logger.ErrorCF("main", "opening database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()

	if err := sqlstore.Migrate(db); err != nil {
		logger.ErrorCF("main", "running migrations", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	draftRepo := sqlstore.NewDraftRepository(db)
	versionRepo := sqlstore.NewVersionRepository(db)
	opRepo := sqlstore.NewOperationRepository(db)
	execRepo := sqlstore.NewExecutionRepository(db)

	registry := steptype.NewRegistry()
	if err := builtins.RegisterAll(registry); err != nil {
		logger.ErrorCF("main", "registering built-in step types", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	tmpl := template.NewEngine()
	bus := pubsub.New()
	defer bus.Close()

	hooks := observability.New(bus, execRepo, observabilityQueueCapacity)
	defer hooks.Close()

	sampler, err := observability.NewSampler(bus)
	if err != nil {
		logger.ErrorCF("main", "starting resource sampler", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	presenceTracker := presence.New(cfg.Session.IdleShutdownAfter)

	events := eventbus.New()
	defer events.Close()
	events.SubscribeAll(func(e domain.Event) {
		logger.InfoCF("events", string(e.EventType()), map[string]interface{}{
			"aggregate_id": e.AggregateID(),
		})
	})

	sup := supervisor.New(draftRepo, opRepo, bus,
		supervisor.WithMailboxCapacity(cfg.Session.MailboxCapacity),
		supervisor.WithIdleTimeout(cfg.Session.IdleShutdownAfter),
		supervisor.WithEventBus(events),
	)
	defer sup.Shutdown()

	server := api.NewServer(cfg, sup, draftRepo, versionRepo, execRepo, registry, tmpl, hooks, bus, presenceTracker, events)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sampler.Run(ctx, 10*time.Second)

	if err := server.Start(ctx); err != nil {
		logger.ErrorCF("main", "starting api server", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	logger.InfoCF("main", "coflowd ready", map[string]interface{}{"addr": cfg.Server.Addr, "db": cfg.Database.DSN})

	<-ctx.Done()
	logger.InfoC("main", "shutting down")

	if err := server.Stop(); err != nil {
		logger.ErrorCF("main", "stopping api server", map[string]interface{}{"error": err.Error()})
	}
}

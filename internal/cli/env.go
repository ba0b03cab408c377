package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/config"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/metrics"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/store"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/store/pgstore"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/workflow"
)

// backend is what every database driver provides: the record store plus
// the run ledger and audit log.
type backend interface {
	resource.Store
	saga.Tracker
	purge.Ledger
	purge.AuditLog
	ListRuns(ctx context.Context) ([]resource.RunSummary, error)
	ListPurgeAudit(ctx context.Context, limit int) ([]resource.PurgeAuditEntry, error)
	ListStaleRuns(ctx context.Context, before time.Time) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// environment wires the engines for one command invocation.
type environment struct {
	backend  backend
	graph    *graph.Graph
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	purger   *purge.Engine
	coord    *saga.Coordinator
}

func (e *environment) submitter() *workflow.Submitter {
	return workflow.NewSubmitter(e.coord)
}

func (e *environment) Close() error {
	return e.backend.Close()
}

// openEnvironment connects to the configured database and loads the graph.
func openEnvironment(ctx context.Context, opts *RootOptions) (*environment, error) {
	g, err := loadGraph(opts.Config.Graph.Path)
	if err != nil {
		return nil, err
	}

	b, err := openBackend(ctx, opts.Config)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("database ready", "driver", opts.Config.Database.Driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	return &environment{
		backend:  b,
		graph:    g,
		registry: reg,
		metrics:  m,
		purger:   purge.New(b, b, b, g, purge.WithLogger(opts.Logger), purge.WithMetrics(m)),
		coord: saga.New(b, g,
			saga.WithLogger(opts.Logger),
			saga.WithTracker(b),
			saga.WithMetrics(m),
		),
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		return store.Open(cfg.Database.Path)
	case config.DriverMySQL:
		return store.OpenMySQL(cfg.Database.DSN)
	case config.DriverPostgres:
		return pgstore.Open(ctx, cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// loadGraph reads a tier file, or returns the built-in graph for "".
func loadGraph(path string) (*graph.Graph, error) {
	if path == "" {
		return graph.Default(), nil
	}
	return graph.Load(path)
}

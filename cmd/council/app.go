package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nidhogg/nuka-council/internal/agent"
	"github.com/nidhogg/nuka-council/internal/audit"
	"github.com/nidhogg/nuka-council/internal/checkpoint"
	"github.com/nidhogg/nuka-council/internal/config"
	"github.com/nidhogg/nuka-council/internal/embedding"
	"github.com/nidhogg/nuka-council/internal/history"
	"github.com/nidhogg/nuka-council/internal/lineage"
	"github.com/nidhogg/nuka-council/internal/metrics"
	"github.com/nidhogg/nuka-council/internal/natsbus"
	"github.com/nidhogg/nuka-council/internal/notify"
	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/nidhogg/nuka-council/internal/provider"
	pgstore "github.com/nidhogg/nuka-council/internal/store"
	"github.com/nidhogg/nuka-council/internal/vectorstore"
	"github.com/nidhogg/nuka-council/internal/workflow"
	"go.uber.org/zap"
)

// streamMaxLen bounds each per-run Redis stream.
const streamMaxLen = 1000

// app holds everything a command needs. Optional backends are nil when
// not configured or unreachable.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	service *workflow.Service

	router   *provider.Router
	metrics  *metrics.Metrics
	history  *history.File
	store    *pgstore.Store
	stream   *audit.StreamRecorder
	bus      *natsbus.Client
	lineage  *lineage.Store
	notifier *notify.Notifier

	closers []func()
}

// newApp wires providers, persistence and recorders from cfg. When console
// is non-nil every step is also printed to it.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, console io.Writer) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := a.wire(ctx, console); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, console io.Writer) error {
	cfg, logger := a.cfg, a.logger

	// Initialize provider router
	if len(cfg.Providers) > 0 {
		router, err := provider.FromConfig(cfg.Providers, logger)
		if err != nil {
			return err
		}
		for name, id := range cfg.Bindings {
			router.Bind(name, id)
		}
		a.router = router
	}

	var policies map[string]agent.KeywordPolicy
	if cfg.Workflow.PolicyFile != "" {
		p, err := agent.LoadPolicies(cfg.Workflow.PolicyFile)
		if err != nil {
			return err
		}
		policies = p
		logger.Info("Policies loaded", zap.String("path", cfg.Workflow.PolicyFile), zap.Int("roles", len(p)))
	}

	// Initialize PostgreSQL store
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		s, err := pgstore.New(ctx, dsn, logger)
		if err == nil {
			err = s.Migrate(ctx)
			if err != nil {
				s.Close()
			}
		}
		switch {
		case err != nil && cfg.Checkpoint.Driver == "postgres":
			return fmt.Errorf("postgres checkpoints: %w", err)
		case err != nil:
			logger.Warn("PostgreSQL unavailable, running without step log", zap.Error(err))
		default:
			a.store = s
			a.closers = append(a.closers, s.Close)
		}
	}

	cps, err := a.checkpointer()
	if err != nil {
		return err
	}

	recorders := []orchestrator.Recorder{a.metrics}
	if console != nil {
		recorders = append(recorders, audit.NewConsole(console))
	}
	if a.store != nil {
		recorders = append(recorders, a.store)
	}

	if cfg.Database.Redis.Stream && cfg.Database.Redis.URL != "" {
		s, err := audit.NewStreamRecorder(cfg.Database.Redis.URL, streamMaxLen, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without step streams", zap.Error(err))
		} else {
			a.stream = s
			a.closers = append(a.closers, func() { s.Close() })
			recorders = append(recorders, s)
		}
	}

	if err := a.connectNATS(); err != nil {
		logger.Warn("NATS unavailable, running without step events", zap.Error(err))
	} else if a.bus != nil {
		recorders = append(recorders, a.bus)
	}

	if uri := cfg.Database.Neo4j.URI; uri != "" {
		ls, err := lineage.NewStore(uri, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err == nil {
			err = ls.EnsureSchema(ctx)
			if err != nil {
				ls.Close(context.Background())
			}
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without lineage", zap.Error(err))
		} else {
			a.lineage = ls
			a.closers = append(a.closers, func() { ls.Close(context.Background()) })
			recorders = append(recorders, ls)
		}
	}

	n, err := a.newNotifier()
	if err != nil {
		return err
	}
	if n != nil {
		a.notifier = n
		recorders = append(recorders, n)
	}

	if cfg.History.Enabled {
		a.history = history.NewFile(cfg.History.Path, logger)
		recorders = append(recorders, a.history)
	}

	deps := workflow.Deps{
		Logger:       logger,
		Recorder:     audit.Multi(recorders...),
		Checkpointer: cps,
	}
	if a.router != nil {
		deps.Chat = a.router
	}
	if cfg.Novelty.Enabled {
		nv, err := a.novelty()
		if err != nil {
			return err
		}
		deps.Novelty = nv
	}

	a.service = workflow.NewService(workflow.Options{
		MaxAttempts: cfg.Workflow.MaxAttempts,
		MaxSteps:    cfg.Workflow.MaxSteps,
		StepTimeout: cfg.Workflow.StepTimeout.Std(),
		Policies:    policies,
		ProfileDir:  cfg.Workflow.ProfileDir,
		Seed:        cfg.Workflow.Seed,
		Retries:     cfg.Workflow.Retries,
	}, deps)
	return nil
}

func (a *app) checkpointer() (orchestrator.Checkpointer, error) {
	cfg := a.cfg
	switch cfg.Checkpoint.Driver {
	case "", "memory":
		return checkpoint.NewMemory(), nil
	case "sqlite":
		s, err := checkpoint.OpenSQLite(cfg.Checkpoint.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { s.Close() })
		return s, nil
	case "postgres":
		if a.store == nil {
			return nil, errors.New("postgres checkpoints need database.postgres.dsn")
		}
		return a.store, nil
	case "redis":
		r, err := checkpoint.NewRedis(cfg.Database.Redis.URL, cfg.Checkpoint.RedisTTL.Std(), a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { r.Close() })
		return r, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Checkpoint.Driver)
	}
}

func (a *app) connectNATS() error {
	nc := a.cfg.NATS
	url := nc.URL
	if nc.Embedded {
		srv, err := natsbus.StartServer(natsbus.ServerConfig{Host: "127.0.0.1", Port: nc.Port})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, srv.Close)
		url = srv.ClientURL()
		a.logger.Info("Embedded NATS started", zap.String("url", url))
	}
	if url == "" {
		return nil
	}
	c, err := natsbus.Connect(url, a.logger)
	if err != nil {
		return err
	}
	a.bus = c
	a.closers = append(a.closers, c.Close)
	return nil
}

func (a *app) newNotifier() (*notify.Notifier, error) {
	nc := a.cfg.Notify
	var channels []notify.Channel
	if nc.Slack.Enabled {
		channels = append(channels, notify.NewSlack(notify.SlackConfig{
			BotToken:  nc.Slack.BotToken,
			ChannelID: nc.Slack.ChannelID,
			Username:  nc.Slack.Username,
			IconEmoji: nc.Slack.IconEmoji,
		}, a.logger))
	}
	if nc.Discord.Enabled {
		d, err := notify.NewDiscord(notify.DiscordConfig{
			BotToken:   nc.Discord.BotToken,
			ChannelID:  nc.Discord.ChannelID,
			WebhookURL: nc.Discord.WebhookURL,
			Username:   nc.Discord.Username,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { d.Close() })
		channels = append(channels, d)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	outcomes := make([]orchestrator.Outcome, len(nc.Outcomes))
	for i, o := range nc.Outcomes {
		outcomes[i] = orchestrator.Outcome(o)
	}
	return notify.NewNotifier(channels, outcomes, a.logger), nil
}

func (a *app) novelty() (*workflow.Novelty, error) {
	cfg := a.cfg
	emb, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, err
	}
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{
		Host: cfg.Database.Qdrant.Host,
		Port: cfg.Database.Qdrant.Port,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { client.Close() })
	a.logger.Info("Novelty filter enabled",
		zap.String("collection", cfg.Novelty.Collection),
		zap.Float32("threshold", cfg.Novelty.Threshold))
	return &workflow.Novelty{
		Embedder:  emb,
		Index:     vectorstore.NewIndex(client, cfg.Novelty.Collection, emb.Dimension()),
		Threshold: cfg.Novelty.Threshold,
		MaxDraws:  cfg.Novelty.MaxDraws,
	}, nil
}

// close releases backends in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.logger.Sync()
}

// Package app wires tradecore's components together with fx, one
// module per component, mirroring the constructor-injection layout the
// rest of the codebase uses: no type in internal/ depends on fx — the
// modules here only connect constructors.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/shrivenq/tradecore/internal/algo"
	"github.com/shrivenq/tradecore/internal/book"
	"github.com/shrivenq/tradecore/internal/feed"
	"github.com/shrivenq/tradecore/internal/metrics"
	"github.com/shrivenq/tradecore/internal/oms"
	"github.com/shrivenq/tradecore/internal/oms/store"
	"github.com/shrivenq/tradecore/internal/oms/wal"
	"github.com/shrivenq/tradecore/internal/position"
	"github.com/shrivenq/tradecore/internal/reconciler"
	"github.com/shrivenq/tradecore/internal/router"
	"github.com/shrivenq/tradecore/internal/workerpool"
	"github.com/shrivenq/tradecore/pkg/config"
	"github.com/shrivenq/tradecore/pkg/num"
	"github.com/shrivenq/tradecore/pkg/ports"
)

// Collaborators are the external interfaces (spec §6) the embedding
// process supplies: risk manager, venue execution adapters, and feed
// adapters. Any of them may be left nil/empty; the router then behaves
// per `risk.required` and no feeds are subscribed.
type Collaborators struct {
	Risk   ports.RiskManager
	Venues map[string]ports.VenueExecutionAdapter
	Feeds  map[string]ports.VenueFeedAdapter
}

// Module assembles the full tradecore dependency graph from cfg and
// the supplied collaborators.
func Module(cfg *config.Config, collab Collaborators) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Supply(collab),
		fx.Provide(
			NewLogger,
			metrics.New,
			NewWorkerPools,
			num.NewSymbolTable,
			position.New,
			NewEventPublisher,
			NewOMS,
			NewProjectionStore,
			NewBooksFromConfig,
			NewNormalizer,
			NewRouter,
			NewAlgoDriver,
			NewRebalancer,
			NewReconciler,
		),
		fx.Invoke(registerLifecycle),
	)
}

// NewLogger builds the shared zap logger from the logging section.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Logging.Production {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Logging.Format == "console" {
		zc.Encoding = "console"
	}
	if cfg.Logging.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// NewWorkerPools builds the three task-class pools of spec §5.
func NewWorkerPools(cfg *config.Config, logger *zap.Logger) (*workerpool.Pools, error) {
	return workerpool.New(workerpool.Sizes{
		IO:    cfg.WorkerPools.IOSize,
		CPU:   cfg.WorkerPools.CPUSize,
		Timer: cfg.WorkerPools.TimerSize,
	}, logger)
}

// NewEventPublisher selects the OMS event transport per `events.transport`.
func NewEventPublisher(cfg *config.Config, logger *zap.Logger) (message.Publisher, error) {
	if cfg.Events.Transport == "nats" {
		return oms.NewNATSPublisher(cfg.Events.NATSURL, logger)
	}
	return oms.NewGoChannelBus(cfg.Events.Buffer, logger), nil
}

// OMSResult bundles the recovered manager with what recovery found.
type OMSResult struct {
	fx.Out

	Manager       *oms.Manager
	Discrepancies []oms.Discrepancy
	Writer        *wal.Writer
}

// NewOMS replays the durable log from {data_root}/oms, recovers the
// manager, then attaches a fresh writer for live appends (spec §4.E
// "Recovery"). Recovery discrepancies are returned for the operator
// log, not fatal.
func NewOMS(cfg *config.Config, pub message.Publisher, tracker *position.Tracker, logger *zap.Logger) (OMSResult, error) {
	dir := filepath.Join(cfg.DataRoot, "oms")

	records, err := wal.NewReader(dir).ReadAll()
	if err != nil {
		return OMSResult{}, err
	}

	events := oms.NewWatermillPublisher(pub, logger)
	mgr, discrepancies, err := oms.Recover(records, events, tracker, cfg.OMS.AutoRepair, logger)
	if err != nil {
		return OMSResult{}, err
	}
	for _, d := range discrepancies {
		logger.Warn("recovery discrepancy",
			zap.Uint64("order_id", d.OrderID),
			zap.String("kind", d.Kind.String()),
			zap.String("detail", d.Detail),
			zap.String("suggested_fix", d.SuggestedFix),
			zap.Bool("repaired", d.Repaired))
	}

	writer, err := wal.NewWriter(wal.Options{
		Dir:           dir,
		SegmentBytes:  cfg.OMS.LogSegmentBytes,
		BatchSize:     cfg.OMS.PersistBatch,
		FlushInterval: cfg.OMS.FlushInterval,
	}, logger)
	if err != nil {
		return OMSResult{}, err
	}
	mgr.AttachLog(writer)

	return OMSResult{Manager: mgr, Discrepancies: discrepancies, Writer: writer}, nil
}

// NewProjectionStore opens the gorm-backed query projection when a DSN
// is configured; without one the OMS's in-memory indexes serve queries
// alone and the projection is skipped.
func NewProjectionStore(cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	if cfg.OMS.ProjectionDSN == "" {
		return nil, nil
	}
	db, err := gorm.Open(postgres.Open(cfg.OMS.ProjectionDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	logger.Info("order projection store enabled")
	return store.New(db)
}

// NewBooksFromConfig builds the per-symbol book registry from `lob.*`.
func NewBooksFromConfig(cfg *config.Config, tracker *position.Tracker, m *metrics.Metrics, logger *zap.Logger) *Books {
	return NewBooks(BooksConfig{
		ROIWidthTicks: cfg.LOB.ROIWidthTicks,
		CrossPolicy:   crossPolicyFromString(cfg.LOB.CrossPolicy),
	}, tracker, m, logger)
}

func crossPolicyFromString(s string) book.CrossPolicy {
	switch s {
	case "reject":
		return book.CrossReject
	case "trust_newest":
		return book.CrossTrustNewest
	default:
		return book.CrossAutoResolve
	}
}

// NewNormalizer builds the feed normalizer.
func NewNormalizer(logger *zap.Logger) *feed.Normalizer {
	return feed.New(logger)
}

// NewRouter builds the execution router from the `router.*` and
// `risk.*` sections plus the supplied collaborators.
func NewRouter(cfg *config.Config, mgr *oms.Manager, collab Collaborators, symbols *num.SymbolTable, logger *zap.Logger) *router.Router {
	rcfg := router.DefaultConfig()
	rcfg.Strategy = router.VenueStrategy(cfg.Router.VenueStrategy)
	rcfg.PrimaryVenue = cfg.Router.PrimaryVenue
	rcfg.SmartLargeVenue = cfg.Router.SmartLargeVenue
	rcfg.SmartSmallVenue = cfg.Router.SmartSmallVenue
	rcfg.SmartNotionalBP = cfg.Router.SmartNotionalBP
	rcfg.SubmitRatePerSec = cfg.Router.SubmitRatePerSec
	rcfg.SubmitRateBurst = cfg.Router.SubmitRateBurst
	rcfg.RiskRequired = cfg.Risk.Required
	if len(cfg.Router.FeeSchedules) > 0 {
		rcfg.FeeSchedules = make(map[string]router.FeeSchedule, len(cfg.Router.FeeSchedules))
		for venue, fees := range cfg.Router.FeeSchedules {
			rcfg.FeeSchedules[venue] = router.FeeSchedule{MakerBP: fees.MakerBP, TakerBP: fees.TakerBP}
		}
	}
	return router.New(rcfg, mgr, collab.Risk, symbols, collab.Venues, logger)
}

// NewReconciler builds the periodic invariant checker from `reconciler.*`.
func NewReconciler(cfg *config.Config, tracker *position.Tracker, mgr *oms.Manager, pub message.Publisher, pools *workerpool.Pools, m *metrics.Metrics, logger *zap.Logger) *reconciler.Reconciler {
	rcfg := reconciler.DefaultConfig()
	if cfg.Reconciler.IntervalSecs > 0 {
		rcfg.Interval = time.Duration(cfg.Reconciler.IntervalSecs) * time.Second
	}
	rcfg.AutoRepair = cfg.Reconciler.AutoRepair
	if cfg.OMS.RetentionDays > 0 {
		rcfg.RetainTerminal = time.Duration(cfg.OMS.RetentionDays) * 24 * time.Hour
	}
	rcfg.Observer = func(report reconciler.Report) {
		m.ReconcilerRuns.Inc()
		for _, d := range report.Discrepancies {
			m.Discrepancies.WithLabelValues(string(d.Kind)).Inc()
		}
	}
	return reconciler.New(rcfg, tracker, mgr, pub, pools.Timer, logger)
}

// registerLifecycle starts the long-running pieces and tears them down
// in reverse order on shutdown.
func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	pools *workerpool.Pools,
	writer *wal.Writer,
	mgr *oms.Manager,
	projStore *store.Store,
	rec *reconciler.Reconciler,
	normalizer *feed.Normalizer,
	books *Books,
	rtr *router.Router,
	driver *algo.Driver,
	reb *Rebalancer,
	pub message.Publisher,
	symbols *num.SymbolTable,
	collab Collaborators,
) {
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, m, logger)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if metricsSrv != nil {
				metricsSrv.Start()
			}

			// The projection carries no independent truth; rebuild it
			// from the recovered in-memory state at every boot.
			if projStore != nil {
				orders := mgr.Orders()
				rows := make([]store.Row, 0, len(orders))
				for _, o := range orders {
					rows = append(rows, store.Row{
						ID:            o.ID,
						ClientOrderID: o.ClientOrderID,
						ParentOrderID: o.ParentOrderID,
						Symbol:        uint32(o.Symbol),
						Status:        o.Status.String(),
						Version:       o.Version,
					})
				}
				if err := projStore.Rebuild(ctx, rows); err != nil {
					return err
				}
			}

			rec.Start(runCtx)
			books.SetTradeObserver(driver)
			go driver.Run(runCtx, 100*time.Millisecond)
			runFillForwarder(runCtx, pub, mgr, driver, logger)

			for venue, adapter := range collab.Venues {
				venue, adapter := venue, adapter
				go rtr.RunReports(runCtx, venue, adapter)
			}

			ingressCfg := feed.IngressConfig{
				QueueSize:    cfg.Feed.QueueSize,
				MaxPerSecond: cfg.Feed.MaxPerSecond,
				Burst:        cfg.Feed.Burst,
			}
			for venue, adapter := range collab.Feeds {
				for _, name := range cfg.Feed.Symbols {
					venue, adapter := venue, adapter
					sym := symbols.Intern(name)
					ingress := feed.NewIngress(ingressCfg, books.SinkFor(sym, func(r feed.ResyncRequired) {
						logger.Warn("feed resync required",
							zap.String("venue", venue), zap.Uint32("symbol", uint32(r.Symbol)), zap.String("reason", r.Reason))
					}), m.FeedDrops, logger)
					go ingress.Run(runCtx)
					go func() {
						if err := normalizer.Run(runCtx, adapter, sym, ingress); err != nil && runCtx.Err() == nil {
							logger.Error("feed subscription ended", zap.String("venue", venue), zap.Error(err))
						}
					}()
				}
			}

			logger.Info("tradecore started",
				zap.Int("venues", len(collab.Venues)),
				zap.Int("feeds", len(collab.Feeds)),
				zap.Strings("symbols", cfg.Feed.Symbols),
				zap.Int("tracked_positions", len(reb.Holdings())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if metricsSrv != nil {
				_ = metricsSrv.Stop(ctx)
			}
			pools.Release()
			return writer.Close()
		},
	})
}

package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"KidneyAllocation/internal/config"
	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/infrastructure/intake"
	"KidneyAllocation/internal/infrastructure/metrics"
	"KidneyAllocation/internal/infrastructure/scheduler"
	"KidneyAllocation/internal/infrastructure/storage"
	"KidneyAllocation/internal/infrastructure/telegram"
	"KidneyAllocation/internal/infrastructure/transport"
	"KidneyAllocation/internal/logging"
	"KidneyAllocation/internal/offers"
	"KidneyAllocation/internal/ports"
	"KidneyAllocation/internal/ranking"
	"KidneyAllocation/internal/store"
	"KidneyAllocation/internal/usecase"
)

const shutdownTimeout = 5 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	allocation *usecase.Allocation
	sweeper    *usecase.ExpirySweeper
	registry   *prometheus.Registry
	db         *sql.DB
	now        func() time.Time
}

// New builds a runnable application instance. A configured database DSN is
// dialled here so a bad connection fails fast.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	app := &Application{cfg: cfg, logger: baseLogger, now: time.Now}

	var observer *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		app.registry = prometheus.NewRegistry()
		observer = metrics.New(app.registry)
	}

	sources := intake.NewRegistry()
	sources.Register(intake.NewHTMLRoster(cfg.Roster.Location, nil, logging.Component(baseLogger, "intake.html")))

	var repository ports.AllocationRepository
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		app.db = db
		repo := storage.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			app.Close()
			return nil, err
		}
		sources.Register(repo)
		repository = repo
	}

	source, err := sources.Resolve(cfg.Roster.Source)
	if err != nil {
		app.Close()
		return nil, err
	}

	records := store.New()

	rankerOpts := []ranking.Option{ranking.WithParallelism(cfg.Ranking.Parallelism)}
	offerOpts := []offers.Option{offers.WithLogger(logging.Component(baseLogger, "offers"))}
	if observer != nil {
		rankerOpts = append(rankerOpts, ranking.WithObserver(observer))
		offerOpts = append(offerOpts, offers.WithObserver(observer))
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.Chats)
	}

	var dispatcher ports.Dispatcher
	if cfg.Transport.DispatchURL != "" {
		dispatcher = transport.NewClient(cfg.Transport.DispatchURL, cfg.Transport.APIKey)
	}

	allocation, err := usecase.NewAllocation(usecase.AllocationDeps{
		Source:     source,
		Store:      records,
		Ranker:     ranking.NewRanker(logging.Component(baseLogger, "ranking"), rankerOpts...),
		Offers:     offers.NewManager(records, offerOpts...),
		Repository: repository,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     logging.Component(baseLogger, "allocation"),
	})
	if err != nil {
		app.Close()
		return nil, err
	}
	app.allocation = allocation

	if cfg.Offers.SweepInterval > 0 {
		app.sweeper = usecase.NewExpirySweeper(scheduler.NewTickerScheduler(cfg.Offers.SweepInterval), allocation)
	}

	return app, nil
}

// Allocation exposes the wired workflow.
func (a *Application) Allocation() *usecase.Allocation {
	return a.allocation
}

// Run loads the roster, ranks it and optionally sends first offers. With a
// sweep interval or a metrics address it then keeps running until ctx ends.
func (a *Application) Run(ctx context.Context) error {
	if a.allocation == nil {
		return nil
	}

	if err := a.allocation.Refresh(ctx); err != nil {
		return err
	}

	result, err := a.allocation.GenerateMatches(ctx)
	if err != nil {
		return fmt.Errorf("generate matches: %w", err)
	}
	a.report(result)

	if a.cfg.Offers.AutoOffer {
		if err := a.offerAvailable(ctx, result.Matches); err != nil {
			return err
		}
	}

	dash := a.allocation.Dashboard(a.now())
	a.logger.Info("dashboard",
		"active_patients", dash.ActivePatients,
		"available_donors", dash.AvailableDonors,
		"pending_offers", dash.PendingOffers,
		"accepted_offers", dash.AcceptedOffers,
	)

	if a.sweeper == nil && a.registry == nil {
		return nil
	}
	return a.serve(ctx)
}

// Close releases the database handle, if any.
func (a *Application) Close() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", "error", err)
	}
	a.db = nil
}

func (a *Application) report(result ranking.Result) {
	summary := ranking.Summarize(result.Matches)
	a.logger.Info("matches generated",
		"total", summary.Total,
		"average_score", summary.Average,
		"highest_score", summary.Highest,
		"warnings", len(result.Warnings),
	)

	for _, d := range a.allocation.AvailableDonors() {
		for i, m := range ranking.Top(ranking.ForDonor(result.Matches, d.ID), a.cfg.Ranking.TopMatches) {
			a.logger.Info("candidate",
				"donor", m.DonorID,
				"rank", i+1,
				"patient", m.PatientID,
				"name", m.PatientName,
				"score", m.Score,
				"blood", m.BloodCompatibility,
			)
		}
	}
}

func (a *Application) offerAvailable(ctx context.Context, matches []domain.Match) error {
	now := a.now()
	for _, d := range a.allocation.AvailableDonors() {
		offer, err := a.allocation.OfferNext(ctx, matches, d.ID, now)
		if errors.Is(err, domain.ErrNotFound) {
			a.logger.Info("no free candidate", "donor", d.ID)
			continue
		}
		if err != nil {
			return fmt.Errorf("offer donor %s: %w", d.ID, err)
		}
		a.logger.Info("offer sent", "offer", offer.ID, "donor", offer.DonorID, "patient", offer.PatientID, "expires_at", offer.ExpiresAt)
	}
	return nil
}

func (a *Application) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.sweeper != nil {
		if err := a.sweeper.Start(gctx); err != nil {
			return fmt.Errorf("start expiry sweep: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return a.sweeper.Stop(stopCtx)
		})
	}

	if a.registry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.logger.Info("metrics listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ai-viability-watch/internal/alerting"
	"ai-viability-watch/internal/config"
	"ai-viability-watch/internal/dataset"
	"ai-viability-watch/internal/fetcher"
	"ai-viability-watch/internal/report"
	"ai-viability-watch/internal/scheduler"
	"ai-viability-watch/internal/server"
	"ai-viability-watch/internal/service"
	"ai-viability-watch/internal/storage"
	"ai-viability-watch/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; defaults to os.Stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) newBindings() []service.Binding {
	bindings := make([]service.Binding, 0, len(a.Config.Sources))
	for _, src := range a.Config.Sources {
		var source fetcher.Source
		switch src.Kind {
		case config.SourceKindChainlink:
			timeout := src.Timeout
			if timeout <= 0 {
				timeout = a.Config.Ethereum.RequestTimeout
			}
			source = fetcher.NewChainlinkSource(fetcher.ChainlinkOptions{
				Name:    src.Name,
				RPCURL:  a.Config.Ethereum.RPCURL,
				Address: src.Address,
				Unit:    src.Unit,
				Timeout: timeout,
				MaxAge:  src.MaxAge,
			}, a.Logger)
		default:
			source = fetcher.NewHTTPSource(fetcher.HTTPOptions{
				Name:      src.Name,
				URL:       src.URL,
				Field:     src.Field,
				Unit:      src.Unit,
				Timeout:   src.Timeout,
				UserAgent: version.UserAgent(a.Config.App.Name),
				Retries:   src.Retries,
				RPS:       src.RPS,
			}, a.Logger)
		}
		bindings = append(bindings, service.Binding{Source: source, Metric: src.Metric, Spread: src.Spread})
	}
	return bindings
}

func (a *App) newNotifier() alerting.Notifier {
	var targets []alerting.Named
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		targets = append(targets, alerting.Named{
			Channel:  "telegram",
			Notifier: alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger),
		})
	}
	if hook := a.Config.Alerting.Webhook; hook.Enabled {
		targets = append(targets, alerting.Named{
			Channel:  "webhook",
			Notifier: alerting.NewWebhookNotifier(hook.URL, hook.Headers, hook.Timeout, a.Logger),
		})
	}
	fan := alerting.NewFanout(targets, a.Logger)
	if fan == nil {
		return nil
	}
	return fan
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) loadDataset() (*dataset.Dataset, error) {
	return dataset.Load(a.Config.Dataset.Path)
}

// newService builds the refresh service. store may be nil.
func (a *App) newService(store *storage.Store, notifier alerting.Notifier) (*service.Service, error) {
	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		RefreshOnStart: a.Config.Scheduler.RefreshOnStart,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var observationStore storage.ObservationStore
	var alertStore storage.AlertStore
	if store != nil {
		observationStore = store
		alertStore = store
	}

	return service.New(a.Config, sched, a.newBindings(), observationStore, alertStore, notifier, a.Logger)
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.newService(store, a.newNotifier())
	if err != nil {
		return err
	}

	a.Logger.Info().Int("sources", len(a.Config.Sources)).Msg("starting refresh service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// Serve runs the dashboard together with the refresh loop when live sources
// are configured.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ds, err := a.loadDataset()
	if err != nil {
		return err
	}
	estimator, err := a.Config.Estimator()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var (
		svc  *service.Service
		live server.LiveSource
	)
	if len(a.Config.Sources) > 0 {
		svc, err = a.newService(store, a.newNotifier())
		if err != nil {
			return err
		}
		if err := svc.Warm(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("starting with an empty observation cache")
		}
		live = svc
	}

	srv := server.New(server.Options{
		Addr:         a.Config.Server.Addr,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}, ds, a.Config.RuleTable(), estimator, live, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if svc != nil {
		g.Go(func() error { return svc.Run(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info().Msg("dashboard stopped")
	return nil
}

// Report format names.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatJSON     = "json"
)

// ReportOptions configure the report command.
type ReportOptions struct {
	Format string
	View   report.View
}

func (a *App) buildReport(ctx context.Context) (*report.Report, error) {
	ds, err := a.loadDataset()
	if err != nil {
		return nil, err
	}
	estimator, err := a.Config.Estimator()
	if err != nil {
		return nil, err
	}

	live, err := a.latestObservations(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("live observations unavailable; report uses curated data only")
	}
	return report.NewBuilder(a.Config.RuleTable(), estimator).Build(ds, live)
}

// latestObservations reads the cache when a database is configured.
func (a *App) latestObservations(ctx context.Context) ([]storage.Observation, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil || store == nil {
		return nil, err
	}
	defer closeStore()
	return store.LatestObservations(ctx)
}

// ExportOptions hold parameters for the export command.
type ExportOptions struct {
	CSVPath   string
	PNGDir    string
	Delimiter rune
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Since  time.Duration
	Alerts bool
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out(), format, args...)
}

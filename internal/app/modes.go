package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/theatom/atombot/internal/archive"
	"github.com/theatom/atombot/internal/chain"
	"github.com/theatom/atombot/internal/config"
	"github.com/theatom/atombot/internal/crypto"
	"github.com/theatom/atombot/internal/engine"
	"github.com/theatom/atombot/internal/feed"
	"github.com/theatom/atombot/internal/ledger"
	"github.com/theatom/atombot/internal/notify"
	"github.com/theatom/atombot/internal/risk"
	"github.com/theatom/atombot/internal/scanner"
	"github.com/theatom/atombot/internal/server"
	"github.com/theatom/atombot/internal/server/handler"
	"github.com/theatom/atombot/internal/server/ws"
)

// reconcileLockKey serialises restart reconciliation across bot instances
// sharing one database.
const reconcileLockKey = "reconcile:boot"

// reconcileLockTTL bounds how long a crashed boot can block the next one.
const reconcileLockTTL = 2 * time.Minute

// trading bundles the running trading components the HTTP layer reports on
// and controls.
type trading struct {
	feed     *feed.Adapter
	detector *scanner.Detector
	engine   *engine.Engine
	gate     *risk.Gate
	ledger   *ledger.Ledger
}

// BotMode runs the headless trading loop: feed, scanner, risk gate, engine,
// ledger, archive sweep, and alert relay, with no HTTP surface.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)

	if _, err := a.startTrading(ctx, g, deps); err != nil {
		return fmt.Errorf("bot mode: %w", err)
	}

	return g.Wait()
}

// ServerMode serves the dashboard API over the shared ledger without running
// any trading. The pause/resume endpoints are not registered because there is
// no scanner to control; the HTTP server is always started in this mode.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	led := ledger.New(deps.TradeStore, deps.Telemetry, a.logger)
	if err := led.Load(ctx); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, led, nil)

	return g.Wait()
}

// AllMode runs trading and the dashboard API in a single process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	g, ctx := errgroup.WithContext(ctx)

	rt, err := a.startTrading(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("all mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rt.ledger, rt)
	}

	return g.Wait()
}

// startTrading builds the full execution path (wallet, chain connection,
// feed, scanner, risk gate, engine, ledger), reconciles attempts left over
// from a previous run, and adds the long-running loops to the errgroup. The
// returned bundle is what the HTTP layer needs for status and control.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*trading, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	chainClient, err := chain.Dial(ctx, chain.ClientConfig{
		RPCURL:          a.cfg.Chain.RPCURL,
		ChainID:         a.cfg.Chain.ChainID,
		MaxGasPriceGwei: a.cfg.Chain.MaxGasPriceGwei,
		ConfirmTimeout:  a.cfg.Chain.ConfirmTimeout.Duration,
		ReceiptPoll:     a.cfg.Chain.ReceiptPollInterval.Duration,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, chainClient.Close)
	deps.Pingers["chain"] = func(ctx context.Context) error {
		_, err := chainClient.BlockNumber(ctx)
		return err
	}

	signer, err := chain.NewSigner(key, chainClient.ChainID())
	if err != nil {
		return nil, err
	}
	a.logger.InfoContext(ctx, "execution wallet ready",
		slog.String("address", signer.Address().Hex()),
		slog.Int64("chain_id", chainClient.ChainID().Int64()),
	)

	executor, err := chain.NewExecutor(chainClient, signer, a.cfg.Chain.FlashLoanContract, a.logger)
	if err != nil {
		return nil, err
	}

	feedAdapter, err := feed.New(feed.Config{
		Venues:         venueSpecs(a.cfg.Feed.Venues),
		Pairs:          a.cfg.Scanner.Pairs,
		PollInterval:   a.cfg.Feed.PollInterval.Duration,
		StaleAfter:     a.cfg.Feed.StaleAfter.Duration,
		RequestTimeout: a.cfg.Feed.RequestTimeout.Duration,
	}, deps.QuoteCache, deps.RateLimiter, deps.Telemetry, a.logger)
	if err != nil {
		return nil, err
	}

	breaker := risk.NewBreaker(risk.BreakerConfig{
		Failures:  a.cfg.Risk.BreakerFailures,
		Successes: a.cfg.Risk.BreakerSuccesses,
		Cooldown:  a.cfg.Risk.BreakerCooldown.Duration,
		Window:    a.cfg.Risk.BreakerWindow.Duration,
	}, a.logger)
	gate := risk.NewGate(risk.Config{
		MinProfitRatio:     a.cfg.Risk.MinProfitRatio,
		ValidityWindow:     a.cfg.Risk.ValidityWindow.Duration,
		MaxInflightPerPair: a.cfg.Risk.MaxInflightPerPair,
	}, breaker, deps.Telemetry, deps.AuditStore, a.logger)

	led := ledger.New(deps.TradeStore, deps.Telemetry, a.logger)
	if err := led.Load(ctx); err != nil {
		return nil, err
	}
	led.OnSettled(gate.OnSettled)

	eng, err := engine.New(engine.Config{
		Workers:        a.cfg.Engine.Workers,
		BorrowAsset:    a.cfg.Engine.BorrowAsset,
		BorrowDecimals: a.cfg.Engine.BorrowDecimals,
		SubmitRetries:  a.cfg.Engine.SubmitRetries,
		RetryBackoff:   a.cfg.Engine.RetryBackoff.Duration,
		FlashFeeRatio:  a.cfg.Engine.FlashFeeRatio,
		SlippageBuffer: a.cfg.Engine.SlippageBuffer,
		GasQuoteRate:   a.cfg.Chain.GasQuoteRate,
		DedupTTL:       a.cfg.Engine.DedupTTL.Duration,
	}, engine.Deps{
		Feed:    feedAdapter,
		Chain:   executor,
		Confirm: chainClient,
		Ledger:  led,
		Slots:   gate,
		Events:  deps.Telemetry,
		Audit:   deps.AuditStore,
		Logger:  a.logger,
	})
	if err != nil {
		return nil, err
	}

	// Resolve attempts left submitted by a previous run before any new
	// execution starts. The lock keeps two instances sharing one database
	// from adopting the same attempts.
	unlock, err := deps.LockManager.Acquire(ctx, reconcileLockKey, reconcileLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	err = eng.Reconcile(ctx)
	unlock()
	if err != nil {
		return nil, err
	}

	scanCfg := scanner.Config{
		Pairs:          a.cfg.Scanner.Pairs,
		Interval:       a.cfg.Scanner.Interval.Duration,
		MinSpreadRatio: a.cfg.Scanner.MinSpreadRatio,
		TradeAmount:    a.cfg.Scanner.TradeAmount,
	}
	det := scanner.NewDetector(scanner.DetectorConfig{
		Config:  scanCfg,
		Feed:    feedAdapter,
		Scanner: scanner.New(scanCfg, a.logger),
		Gate:    gate,
		Sink:    eng,
		Events:  deps.Telemetry,
		Logger:  a.logger,
	})

	g.Go(func() error {
		return feedAdapter.Run(ctx)
	})
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		return det.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		sweeper := archive.New(archive.Config{
			RetentionDays: a.cfg.Archive.RetentionDays,
			Cron:          a.cfg.Archive.Cron,
		}, deps.Archiver, deps.TradeStore, deps.AuditStore, deps.AuditStore, deps.LockManager, a.logger)
		g.Go(func() error {
			return sweeper.Run(ctx)
		})
	}

	if deps.Notifier.Enabled() {
		relay := notify.NewRelay(deps.Telemetry, deps.Notifier, a.logger)
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	return &trading{
		feed:     feedAdapter,
		detector: det,
		engine:   eng,
		gate:     gate,
		ledger:   led,
	}, nil
}

// startHTTPServer adds the dashboard API server and its WebSocket hub to the
// given errgroup. rt is nil in server mode; handlers that need the live
// trading stack are then left unregistered and the status snapshot reports
// the bot as stopped.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, led *ledger.Ledger, rt *trading) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Telemetry, a.cfg.Mode, startedAt, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var venues handler.VenueHealthSource
	handlers := server.Handlers{
		Trades: handler.NewTradeHandler(led, a.logger),
		Logs:   handler.NewLogHandler(deps.Telemetry, a.logger),
	}
	if rt != nil {
		venues = rt.feed
		handlers.Status = handler.NewStatusHandler(led, rt.engine, rt.detector, rt.gate, startedAt, a.logger)
		handlers.Opportunities = handler.NewOpportunityHandler(rt.engine, a.logger)
		handlers.Control = handler.NewControlHandler(rt.detector, deps.AuditStore, deps.Telemetry, a.logger)
	} else {
		handlers.Status = handler.NewStatusHandler(led, nil, nil, nil, startedAt, a.logger)
	}
	handlers.Health = handler.NewHealthHandler(deps.Pingers, venues, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// venueSpecs converts configured venues into the feed's spec type.
func venueSpecs(venues []config.VenueConfig) []feed.VenueSpec {
	specs := make([]feed.VenueSpec, 0, len(venues))
	for _, v := range venues {
		specs = append(specs, feed.VenueSpec{Name: v.Name, Kind: v.Kind, URL: v.URL})
	}
	return specs
}

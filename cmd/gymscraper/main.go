// Command gymscraper runs the fetch-validate-retry pipeline against a single
// gym schedule URL, persisting extracted classes to the configured upsert
// sink.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/milesc-bot/gym-scraper/internal/browserpool"
	"github.com/milesc-bot/gym-scraper/internal/clock"
	"github.com/milesc-bot/gym-scraper/internal/compliance"
	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/fetch"
	"github.com/milesc-bot/gym-scraper/internal/llmplan"
	"github.com/milesc-bot/gym-scraper/internal/llmplan/openai"
	"github.com/milesc-bot/gym-scraper/internal/logging"
	"github.com/milesc-bot/gym-scraper/internal/metrics"
	"github.com/milesc-bot/gym-scraper/internal/orchestrator"
	"github.com/milesc-bot/gym-scraper/internal/scraper"
	"github.com/milesc-bot/gym-scraper/internal/session"
	"github.com/milesc-bot/gym-scraper/internal/sink/supabase"
	"github.com/milesc-bot/gym-scraper/internal/trap"
	"github.com/milesc-bot/gym-scraper/internal/validator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gymscraper <url> [iana-timezone]",
		Short: "Extract and persist a gym's class schedule.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	rawURL := args[0]
	gymTimezone := "UTC"
	if len(args) == 2 {
		gymTimezone = args[1]
	}

	orch, pool := buildOrchestrator(cfg, logger, gymTimezone)
	defer func() {
		if pool != nil {
			_ = pool.Close()
		}
	}()

	result, err := orch.Run(ctx, rawURL)
	if err != nil {
		logger.Error("run failed", zap.String("url", rawURL), zap.Error(err))
		return err
	}

	logger.Info("run completed",
		zap.String("organization_ref", result.OrganizationRef),
		zap.Int("location_count", len(result.LocationRefs)),
		zap.Int("classes_upserted", result.ClassesUpserted),
	)
	return nil
}

func buildOrchestrator(cfg config.Config, logger *zap.Logger, gymTimezone string) (*orchestrator.Orchestrator, *browserpool.Pool) {
	clk := clock.New()
	complianceGate := compliance.New(cfg.BotUserAgent, cfg.RateLimitMs, logger)

	light := fetch.NewLightFetcher(cfg.BotUserAgent, 30*time.Second, logger)
	pool := browserpool.New(cfg.BotUserAgent, logger)
	browser := fetch.NewBrowserFetcher(pool, logger)
	fetchLayer := fetch.New(light, browser, complianceGate, logger)

	trapDetector := trap.New(cfg.MaxCrawlDepth)

	// One planner instance serves both navigation planning and login-selector
	// fallback, so LLM_BUDGET_CENTS caps cumulative spend across both.
	var planner llmplan.Planner
	if cfg.LLMEnabled() {
		if p, err := openai.New(cfg.OpenAIAPIKey, llmplan.NewBudgetGuard(cfg.LLMBudgetCents)); err == nil {
			planner = p
		} else {
			logger.Warn("llm planner disabled", zap.Error(err))
		}
	}

	var sessionMgr *session.Manager
	if cfg.GymUsername != "" {
		creds := session.Credentials{
			Username:   cfg.GymUsername,
			Password:   cfg.GymPassword,
			TOTPSecret: cfg.GymTOTPSecret,
		}
		store := session.NewCookieStore(cfg.CookieStorePath)
		var selectorPlanner session.SelectorPlanner
		if planner != nil {
			selectorPlanner = planner
		}
		sessionMgr = session.NewManager(creds, store, time.Duration(cfg.CookieTTLHours)*time.Hour, selectorPlanner, logger, clk)
		sessionMgr.LoadPersistedCookies()
		pool.OnLogin(func(pg *browserpool.Page) {
			sessionMgr.NotifyLoginWall(context.Background(), func(ctx context.Context) (session.LoginPage, func() error, error) {
				return pg, func() error { return nil }, nil
			})
		})
	}

	sinkImpl := supabase.New(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
	fallback := scraper.NewGenericExtractor("Main", gymTimezone)
	factory := scraper.New(fallback)

	orch := orchestrator.New(
		logger, clk, fetchLayer, trapDetector, sessionMgr, pool,
		validator.New(), factory, sinkImpl, planner, gymTimezone,
	)
	return orch, pool
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("metrics server started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/storescout/internal/analysis"
	"github.com/rahul/storescout/internal/crawl"
	"github.com/rahul/storescout/internal/gateway"
	"github.com/rahul/storescout/internal/governance"
	"github.com/rahul/storescout/internal/observability"
	"github.com/rahul/storescout/internal/reasoning"
	"github.com/rahul/storescout/internal/session"
	"github.com/rahul/storescout/internal/storefront"
	"github.com/rahul/storescout/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "storescout",
		Short: "Walk through an online store like a first-time shopper and audit the experience",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to a JSON or YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newAuditCmd(&configPath),
		newValidateCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and any enabled chat gateways",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := build(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.close()

			out := observability.NewTermWriter(cmd.OutOrStdout())
			observability.PrintBanner(out)

			runner := gateway.NewChatRunner(app.coordinator, app.admission, 2, app.log)
			var messengers []gateway.Messenger
			if tg, ok := app.cfg.GetTelegramConfig(); ok {
				m, err := gateway.NewTelegramGateway(tg.Token, runner, app.log)
				if err != nil {
					return err
				}
				messengers = append(messengers, m)
			}
			if dc, ok := app.cfg.GetDiscordConfig(); ok {
				m, err := gateway.NewDiscordGateway(dc.Token, runner, app.log)
				if err != nil {
					return err
				}
				messengers = append(messengers, m)
			}

			httpSrv := gateway.NewHTTPServer(app.coordinator, app.admission, app.tracker, app.cfg.Server.Metrics, app.log).
				Server(app.cfg.Server.ListenAddr)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				observability.PrintLine(out, "listening on %s", observability.Highlight(app.cfg.Server.ListenAddr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			for _, m := range messengers {
				g.Go(func() error {
					defer m.Stop()
					return m.Start(gctx)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			observability.PrintLine(out, "%s", observability.Dim("shut down"))
			return err
		},
	}
}

func newAuditCmd(configPath *string) *cobra.Command {
	var (
		outPath        string
		screenshotsDir string
		skipValidation bool
	)

	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Run one audit session and print its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := build(ctx, *configPath)
			if err != nil {
				return err
			}
			defer app.close()

			out := observability.NewTermWriter(cmd.OutOrStdout())
			adm := app.admission
			if skipValidation {
				adm.Validator = nil
			}
			v, err := adm.Admit(ctx, args[0], "cli", "")
			if err != nil {
				return err
			}

			observability.PrintLine(out, "auditing %s", observability.Highlight(v.URL))
			progress := session.NewProgress()
			console := gateway.NewConsoleSink(out, screenshotsDir, app.log)
			sum, err := app.coordinator.Run(ctx, v.URL, session.Multi(progress, console))
			if err != nil {
				return err
			}

			observability.PrintLine(out, "%s", gateway.FormatSummary(progress.Snapshot()))
			if sum.Report != nil && outPath != "" {
				if err := gateway.WriteReport(outPath, *sum.Report); err != nil {
					return err
				}
				observability.PrintLine(out, "report written to %s", outPath)
			}
			if screenshotsDir != "" {
				observability.PrintLine(out, "%d screenshots saved to %s", console.Saved(), screenshotsDir)
			}
			if sum.ReportErr != nil {
				return fmt.Errorf("audit incomplete: %w", sum.ReportErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report JSON to this file")
	cmd.Flags().StringVar(&screenshotsDir, "screenshots", "", "save every screenshot as PNG into this directory")
	cmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "skip the storefront probe")
	return cmd
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <url>",
		Short: "Check whether a URL is an auditable storefront",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Logging.Level, "")
			if err != nil {
				return err
			}
			defer logger.Zap().Sync()

			v, err := storefront.NewValidator(logger.Zap()).Validate(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:          %s\n", v.URL)
			fmt.Fprintf(out, "store name:   %s\n", v.StoreName)
			fmt.Fprintf(out, "listing api:  %t\n", v.ListingAPI)
			fmt.Fprintf(out, "fingerprint:  %t\n", v.Fingerprint)
			fmt.Fprintf(out, "storefront:   %t\n", v.IsStorefront)
			return err
		},
	}
}

type app struct {
	cfg         *config.Config
	logger      *observability.Logger
	log         *zap.Logger
	tracker     *observability.Tracker
	coordinator *session.Coordinator
	admission   gateway.Admission
}

func (a *app) close() {
	_ = a.log.Sync()
}

// build wires the session stack from config.
func build(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Transcript)
	if err != nil {
		return nil, err
	}
	log := logger.Zap()

	svc, err := newReasoning(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	policy, err := newPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	b := cfg.Browser
	launcher := crawl.Chrome{
		Headless:  b.Headless,
		Width:     b.Width,
		Height:    b.Height,
		UserAgent: b.UserAgent,
		ExecPath:  b.ExecPath,
	}
	opts := crawl.DefaultOptions()
	if b.NavigationTimeout > 0 {
		opts.NavigationTimeout = config.Millis(b.NavigationTimeout)
	}
	if b.ProbeTimeout > 0 {
		opts.ProbeTimeout = config.Millis(b.ProbeTimeout)
	}
	if b.DismissProbe > 0 {
		opts.DismissProbe = config.Millis(b.DismissProbe)
	}
	if b.ScrollSettle > 0 {
		opts.ScrollSettle = config.Millis(b.ScrollSettle)
	}
	if b.AddToCartSettle > 0 {
		opts.AddToCartSettle = config.Millis(b.AddToCartSettle)
	}
	crawler := crawl.NewCrawler(launcher, crawl.NewCatalogClient(), opts, log)

	prompts := analysis.NewPromptManager(cfg.Analysis.PromptsDir, log)
	commentator := analysis.NewCommentator(svc, prompts, analysis.CommentaryOptions{
		MaxTokens:   cfg.Analysis.CommentaryTokens,
		HTMLExcerpt: cfg.Analysis.HTMLExcerpt,
	}, log)
	reporter := analysis.NewReporter(svc, prompts, analysis.ReportOptions{MaxTokens: cfg.Analysis.ReportTokens}, log)

	tracker := observability.DefaultTracker()
	return &app{
		cfg:         cfg,
		logger:      logger,
		log:         log,
		tracker:     tracker,
		coordinator: session.NewCoordinator(crawler, commentator, reporter, tracker, log),
		admission: gateway.Admission{
			Validator: storefront.NewValidator(log),
			Policy:    policy,
		},
	}, nil
}

func newReasoning(ctx context.Context, cfg *config.Config, logger *observability.Logger) (reasoning.Service, error) {
	name, p, err := cfg.GetDefaultProvider()
	if err != nil {
		return nil, err
	}

	switch name {
	case "openai", "openrouter":
		baseURL := p.BaseURL
		if name == "openrouter" && baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		model := p.Model
		if model == "" {
			model = "gpt-4o"
		}
		var llm llms.Model
		llm, err = reasoning.NewOpenAI(p.APIKey, model, baseURL)
		if err != nil {
			return nil, err
		}
		return reasoning.NewLangChain(llm, name, model, logger), nil
	case "gemini":
		return reasoning.NewGemini(ctx, p.APIKey, p.Model, logger)
	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
}

func newPolicy(cfg config.PolicyConfig) (*governance.DefaultPolicyEngine, error) {
	gov := governance.NewDefaultPolicyEngine()
	gov.AllowPrivate = cfg.AllowPrivate
	for _, h := range cfg.DeniedHosts {
		gov.DenyHost(h)
	}
	for _, p := range cfg.DeniedPatterns {
		if err := gov.DenyURLs(p); err != nil {
			return nil, fmt.Errorf("invalid denied pattern %q: %w", p, err)
		}
	}
	return gov, nil
}

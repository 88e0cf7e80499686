package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/api"
	"github.com/Fantasim/tappos/internal/api/middleware"
	"github.com/Fantasim/tappos/internal/chain"
	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/confirm"
	"github.com/Fantasim/tappos/internal/events"
	"github.com/Fantasim/tappos/internal/logging"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
	"github.com/Fantasim/tappos/internal/portfolio"
	"github.com/Fantasim/tappos/internal/price"
	"github.com/Fantasim/tappos/internal/reader"
	"github.com/Fantasim/tappos/internal/terminal"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "portfolio":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: tappos portfolio <address>")
			os.Exit(1)
		}
		if err := runPortfolio(os.Args[2]); err != nil {
			slog.Error("portfolio error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("tappos %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: tappos <command>

Commands:
  serve                Start the terminal and its HTTP API
  portfolio <address>  Print the priced balances of a wallet address
  version              Print version information
`)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting tappos",
		"version", version,
		"port", cfg.Port,
		"chainsFile", cfg.ChainsFile,
		"readerName", cfg.ReaderName,
		"kafka", len(cfg.KafkaBrokers) > 0,
		"logLevel", cfg.LogLevel,
	)

	chains, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		return fmt.Errorf("failed to load chains: %w", err)
	}

	opts, err := terminalOptions(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPrometheusRecorder(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chain.Dial(ctx, chains, rec)
	defer registry.Close()

	prices := price.NewPriceService(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey)
	evaluator := portfolio.NewEvaluator(registry, prices, rec)
	poller := confirm.NewPoller(registry, rec)
	defer poller.Shutdown()

	driver := reader.NewPCSC(cfg.ReaderName)
	defer driver.Close()

	// Status events go to SSE clients and, when configured, to Kafka.
	hub := events.NewHub(rec)
	go hub.Run(ctx)

	sinks := []events.Broadcaster{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, rec)
		defer kafka.Close()
		sinks = append(sinks, kafka)
	}

	svc := terminal.NewService(driver, evaluator, registry, poller, events.NewFanout(rec, sinks...), rec, opts)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	router := api.NewRouter(&api.Dependencies{
		Terminal:  svc,
		Providers: registry,
		Hub:       hub,
		Allowlist: middleware.NewIPAllowlist(cfg.AllowedIPs),
		Gatherer:  reg,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	var exitErr error
	terminalDone := false
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-runErr:
		terminalDone = true
		exitErr = fmt.Errorf("terminal stopped: %w", err)
	case err := <-serveErr:
		exitErr = fmt.Errorf("server listen error: %w", err)
	}
	stop()

	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// The terminal resolves any pending cycle before the reader and
	// confirmation poller are released by the deferred closes.
	if !terminalDone {
		select {
		case <-runErr:
		case <-shutdownCtx.Done():
			slog.Warn("terminal did not stop in time")
		}
	}

	slog.Info("server stopped")
	return exitErr
}

// runPortfolio prints what the terminal would see for address on tap.
func runPortfolio(address string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	chains, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		return fmt.Errorf("failed to load chains: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.PortfolioTimeout)
	defer cancel()

	registry := chain.Dial(ctx, chains, nil)
	defer registry.Close()

	evaluator := portfolio.NewEvaluator(registry, price.NewPriceService(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey), nil)
	tokens, err := evaluator.GetPricedBalances(ctx, address)
	if err != nil {
		return err
	}

	return printTokens(os.Stdout, tokens)
}

func printTokens(out io.Writer, tokens []models.PricedToken) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tSYMBOL\tBALANCE\tPRICE USD\tVALUE USD")
	for _, t := range tokens {
		balance := decimal.Zero
		if t.Balance != nil {
			balance = decimal.NewFromBigInt(t.Balance, -int32(t.Decimals))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			t.ChainID,
			t.Symbol,
			balance.String(),
			decimal.NewFromFloat(t.PriceUSD).StringFixed(4),
			decimal.NewFromFloat(t.ValueUSD).StringFixed(2),
		)
	}
	return tw.Flush()
}

func terminalOptions(cfg *config.Config) (terminal.Options, error) {
	readTemplate, err := cfg.ReadCommandTemplate()
	if err != nil {
		return terminal.Options{}, err
	}
	paymentTemplate, err := cfg.PaymentCommandTemplate()
	if err != nil {
		return terminal.Options{}, err
	}
	aid, err := cfg.SelectAIDBytes()
	if err != nil {
		return terminal.Options{}, err
	}
	return terminal.Options{
		ReadTemplate:    readTemplate,
		PaymentTemplate: paymentTemplate,
		SelectAID:       aid,
	}, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	scholardex "github.com/scholardex/scholardex-go"
	"github.com/scholardex/scholardex-go/config"
	"github.com/scholardex/scholardex-go/dataproc"
	"github.com/scholardex/scholardex-go/health"
	"github.com/scholardex/scholardex-go/internal/rabbitmq"
	rabbitmqTransport "github.com/scholardex/scholardex-go/transports/rabbitmq"
	"github.com/scholardex/scholardex-go/web"
)

var (
	// Version information, set at build time.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		addr      string
		brokerURL string
		verbose   bool
	)

	rootCmd := &cobra.Command{
		Use:   "scholardex-web",
		Short: "Serve the Scholardex paper search front end",
		Long: `scholardex-web serves the Scholardex front end and bridges its
requests onto the asynchronous indexing backend over the message broker.
Configuration comes from the environment (optionally a local .env file);
flags override it.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, brokerURL, verbose)
		},
	}

	rootCmd.Flags().StringVarP(&addr, "addr", "a", "", "HTTP listen address (overrides "+config.EnvHTTPAddr+")")
	rootCmd.Flags().StringVarP(&brokerURL, "broker-url", "u", "", "broker connection URL (overrides "+config.EnvBrokerURL+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(addr, brokerURL string, verbose bool) error {
	// A local .env file is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if brokerURL != "" {
		cfg.BrokerURL = brokerURL
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	setupCtx, setupCancel := context.WithTimeout(ctx, 30*time.Second)
	defer setupCancel()

	transport, err := rabbitmqTransport.NewTransport(setupCtx, cfg.BrokerURL,
		rabbitmqTransport.WithTransportLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	if err := transport.DeclareTopics(setupCtx, cfg.Topics.All()...); err != nil {
		transport.Close()
		return fmt.Errorf("declare topics: %w", err)
	}

	client, err := scholardex.NewClientWithBroker(transport,
		scholardex.WithLogger(logger),
		scholardex.WithResponseTimeout(cfg.ResponseTimeout),
		scholardex.WithBindings(cfg.Topics.Bindings()),
	)
	if err != nil {
		transport.Close()
		return err
	}
	defer client.Close()

	registry := health.NewRegistry()
	registry.SetMetadata("service", "scholardex-web")
	registry.SetMetadata("version", version)
	registry.Register(health.NewBrokerChecker(transport))
	registry.Register(health.NewPendingChecker(client, 100, 1000))
	registry.Register(health.NewRuntimeChecker(0, 0))
	registry.Register(health.NewQueueBacklogChecker(cfg.Topics.SearchRequest, transport.QueueDepth, 10000))

	trigger := dataproc.NewTrigger(dataproc.Settings(cfg.Dataproc), logger)
	if !trigger.Configured() {
		logger.Info("dataproc trigger not configured, batch indexing hook disabled")
	}

	server := web.NewServer(client,
		web.WithLogger(logger),
		web.WithHealthHandler(health.NewHandler(registry, 10*time.Second)),
		web.WithJobTrigger(trigger),
	)

	logger.Info("scholardex web starting",
		"addr", cfg.HTTPAddr,
		"broker", rabbitmq.SanitizeURL(cfg.BrokerURL),
		"response_timeout", cfg.ResponseTimeout.String())

	return server.Run(ctx, cfg.HTTPAddr)
}

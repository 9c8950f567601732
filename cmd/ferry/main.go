package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	pb "github.com/dataferry/ferry/api/proto"
	"github.com/dataferry/ferry/pkg/client"
	"github.com/dataferry/ferry/pkg/config"
	"github.com/dataferry/ferry/pkg/eventlog"
	"github.com/dataferry/ferry/pkg/jobs"
	"github.com/dataferry/ferry/pkg/lifecycle"
	"github.com/dataferry/ferry/pkg/log"
	"github.com/dataferry/ferry/pkg/metrics"
	"github.com/dataferry/ferry/pkg/mgmt"
	"github.com/dataferry/ferry/pkg/offsets"
	"github.com/dataferry/ferry/pkg/scheduler"
	"github.com/dataferry/ferry/pkg/server"
	"github.com/dataferry/ferry/pkg/token"
	"github.com/dataferry/ferry/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Ferry - federation data plane",
	Long: `Ferry moves topic records and files between federated sites.

The client role pulls its configuration from the management plane,
schedules a streaming job per remote product, and commits offsets so
every record is forwarded exactly once per key. The server role exposes
the producer side of the same protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ferry version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a properties file (environment overrides it)")

	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(offsetCmd)
}

// loadConfig loads configuration and initialises logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*offsets.RedisStore, error) {
	var aesKey []byte
	if cfg.Redis.AESKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Redis.AESKey)
		if err != nil {
			return nil, fmt.Errorf("redis.aes.key is not valid base64: %w", err)
		}
		aesKey = key
	}

	return offsets.NewRedisStore(ctx, offsets.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		TLS:      cfg.Redis.TLS,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		AESKey:   aesKey,
	})
}

func newTokenService(cfg *config.Config, store offsets.Store) *token.IDPService {
	return token.NewIDPService(token.Config{
		TokenURL:     cfg.IDP.TokenURL,
		JWKSURL:      cfg.IDP.JWKSURL,
		ClientID:     cfg.IDP.ClientID,
		ClientSecret: cfg.IDP.ClientSecret,
		Backoff:      cfg.IDP.Backoff,
	}, store)
}

func newNodeDataHandler(cfg *config.Config, tokens token.Service) *mgmt.NodeDataHandler {
	return mgmt.NewNodeDataHandler(mgmt.HandlerConfig{
		BaseURL:             cfg.Management.BaseURL,
		ClientID:            cfg.IDP.ClientID,
		ManagementNodeID:    cfg.Management.NodeID,
		RequestTimeout:      cfg.Management.RequestTimeout,
		ConnectivityTimeout: cfg.Management.ConnectivityTimeout,
	}, tokens)
}

// awaitSignal blocks until SIGINT or SIGTERM, then runs the shutdown
// tasks.
func awaitSignal(registry *lifecycle.Registry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger := log.WithComponent("main")
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	registry.Shutdown()
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run the consumer-side data plane",
	Long: `Run the consumer role: reconcile the recurring job set from the
management plane and stream the configured topics and files into the
local event log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateClient(); err != nil {
			return err
		}
		logger := log.WithComponent("main")

		ctx := context.Background()

		// A failing smoke test is fatal by design
		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open offset store: %w", err)
		}

		tokens := newTokenService(cfg, store)
		handler := newNodeDataHandler(cfg, tokens)

		if err := handler.Connectivity(ctx); err != nil {
			logger.Warn().Err(err).Msg("management plane unreachable at startup")
		} else {
			logger.Info().Msg("management plane reachable")
		}

		consumerConfigs := mgmt.NewConsumerConfigService(handler, cfg.IDP.ClientID, cfg.Management.Resilience)

		sink, err := eventlog.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}

		sched := scheduler.New(
			scheduler.WithParallelism(cfg.Jobs.Parallelism),
			scheduler.WithBackground(cfg.Jobs.BackgroundEnabled),
		)
		sched.EnsureStarted()

		factory := client.NewGRPCFactory()
		topics := jobs.NewTopicStreamJob(store, tokens, factory, sink, cfg.Kafka.TopicPrefix)
		files := jobs.NewFileExchangeJob(store, tokens, factory)
		dynamic := jobs.NewDynamicConfigJob(consumerConfigs, sched, topics, files)

		err = sched.RegisterJob(dynamic, types.JobParams{
			JobID:                   "dynamic-config",
			JobName:                 "dynamic-config",
			ScheduleType:            types.ScheduleTypeInterval,
			ScheduleExpression:      cfg.Jobs.DynamicConfigSchedule,
			Retries:                 3,
			ManagementNodeID:        cfg.Management.NodeID,
			RequireImmediateTrigger: true,
		})
		if err != nil {
			return fmt.Errorf("failed to register dynamic-config job: %w", err)
		}

		registry := lifecycle.NewRegistry()
		registry.Register("scheduler", 10, func() error { sched.Stop(); return nil })
		registry.Register("event-log", 20, sink.Close)

		if cfg.Metrics.Enabled {
			metrics.Register()
			metricsServer := metrics.StartServer(cfg.Metrics.Addr)
			registry.Register("metrics", 30, metricsServer.Close)
		}
		registry.Register("offset-store", 40, store.Close)

		logger.Info().Str("node", cfg.Management.NodeID).Msg("client started")
		awaitSignal(registry)
		return nil
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the producer-side federation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateServer(); err != nil {
			return err
		}
		logger := log.WithComponent("main")

		ctx := context.Background()

		// The offset store backs the token cache, and the access map
		// in accessmap mode
		var store offsets.Store
		if cfg.Redis.Host != "" {
			s, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open offset store: %w", err)
			}
			store = s
		}

		tokens := newTokenService(cfg, store)
		handler := newNodeDataHandler(cfg, tokens)
		producerConfigs := mgmt.NewProducerConfigService(handler, cfg.IDP.ClientID, cfg.Management.Resilience)

		records, err := eventlog.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}

		var files *server.DirProvider
		if cfg.Server.FileSource != "" {
			files, err = server.NewDirProvider(cfg.Server.FileSource, 0)
			if err != nil {
				return fmt.Errorf("failed to open file source: %w", err)
			}
		}

		var auth grpc.ServerOption
		switch cfg.Server.AuthMode {
		case config.AuthModeAccessMap:
			auth = grpc.ChainStreamInterceptor(
				server.AccessMapStreamInterceptor(server.NewAccessMapAuthenticator(store)),
			)
		default:
			auth = grpc.ChainStreamInterceptor(
				server.AuthStreamInterceptor(tokens),
				server.ConsumerVerificationInterceptor(tokens, producerConfigs, cfg.Server.Audience),
			)
		}

		opts := []grpc.ServerOption{auth}
		if cfg.Server.TLSCert != "" {
			creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load server TLS keypair: %w", err)
			}
			opts = append(opts, grpc.Creds(creds))
		} else {
			logger.Warn().Msg("serving without transport security")
		}

		grpcServer := grpc.NewServer(opts...)
		pb.RegisterFederationServer(grpcServer, server.NewFederation(records, producerConfigs, files))

		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
		}

		registry := lifecycle.NewRegistry()
		registry.Register("grpc-server", 10, func() error { grpcServer.GracefulStop(); return nil })
		registry.Register("event-log", 20, records.Close)
		if cfg.Metrics.Enabled {
			metrics.Register()
			metricsServer := metrics.StartServer(cfg.Metrics.Addr)
			registry.Register("metrics", 30, metricsServer.Close)
		}
		if store != nil {
			registry.Register("offset-store", 40, store.Close)
		}

		errCh := make(chan error, 1)
		go func() {
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- err
			}
		}()

		logger.Info().
			Int("port", cfg.Server.Port).
			Str("auth_mode", cfg.Server.AuthMode).
			Msg("server started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			registry.Shutdown()
			return fmt.Errorf("grpc server failed: %w", err)
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			registry.Shutdown()
			return nil
		}
	},
}

// Offset commands
var offsetCmd = &cobra.Command{
	Use:   "offset",
	Short: "Inspect and override committed offsets",
}

var (
	offsetClient string
	offsetServer string
	offsetTopic  string
)

func init() {
	for _, cmd := range []*cobra.Command{offsetGetCmd, offsetSetCmd} {
		cmd.Flags().StringVar(&offsetClient, "client", "", "client key")
		cmd.Flags().StringVar(&offsetServer, "server", "", "producer name")
		cmd.Flags().StringVar(&offsetTopic, "topic", "", "topic name")
		_ = cmd.MarkFlagRequired("client")
		_ = cmd.MarkFlagRequired("server")
		_ = cmd.MarkFlagRequired("topic")
	}
	offsetCmd.AddCommand(offsetGetCmd)
	offsetCmd.AddCommand(offsetSetCmd)
}

// offsetPrefix mirrors the key the topic-stream job commits under
func offsetPrefix() string {
	return offsetClient + "-" + types.CleanServerName(offsetServer)
}

var offsetGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the committed offset for a (client, server, topic)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		offset, err := store.GetOffset(ctx, offsetPrefix(), offsetTopic)
		if err != nil {
			return err
		}
		fmt.Println(offset)
		return nil
	},
}

var offsetSetCmd = &cobra.Command{
	Use:   "set <offset>",
	Short: "Override the committed offset for a (client, server, topic)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("offset must be an integer: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetOffset(ctx, offsetPrefix(), offsetTopic, offset); err != nil {
			return err
		}
		fmt.Printf("committed offset %d for %s/%s\n", offset, offsetPrefix(), offsetTopic)
		return nil
	},
}

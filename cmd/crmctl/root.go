package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "crm-insight-service/internal/api/grpc"
	"crm-insight-service/internal/app"
	"crm-insight-service/internal/config"
	"crm-insight-service/internal/observability/logging"
)

// commandContext lazily builds either a gRPC client or a local application.
type commandContext struct {
	addr       *string
	configPath *string
	logLevel   *string

	mu   sync.Mutex
	app  *app.Application
	conn *grpc.ClientConn
	rpc  *grpcapi.Client
}

func newCommandContext(addr, configPath, logLevel *string) *commandContext {
	return &commandContext{addr: addr, configPath: configPath, logLevel: logLevel}
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	if *c.configPath != "" {
		cfg, err := config.LoadFile(*c.configPath)
		if err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(), nil
}

// remote returns a gRPC client, or nil when running locally.
func (c *commandContext) remote() (*grpcapi.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if *c.addr == "" {
		return nil, nil
	}
	if c.rpc != nil {
		return c.rpc, nil
	}
	conn, err := grpc.NewClient(*c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", *c.addr, err)
	}
	c.conn = conn
	c.rpc = grpcapi.NewClient(conn)
	return c.rpc, nil
}

// application builds the in-process pipeline on first use.
func (c *commandContext) application(ctx context.Context) (*app.Application, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.app != nil {
		return c.app, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	// Events from a one-off command are not worth publishing.
	cfg.Kafka.Enabled = false
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Init(logging.Config{Level: *c.logLevel, Format: "console", Output: os.Stderr})

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *commandContext) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.app != nil {
		c.app.Shutdown()
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	var addrFlag, configFlag, logLevelFlag string

	ctx := newCommandContext(&addrFlag, &configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "crmctl",
		Short:         "CRM insight service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "gRPC address of a running service (default: run in-process)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (in-process mode)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (in-process mode)")

	rootCmd.AddCommand(newAskCommand(ctx))
	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newFormatsCommand(ctx))
	rootCmd.AddCommand(newSnapshotCommand(ctx))

	return rootCmd
}

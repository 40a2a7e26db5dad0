package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evonet/internal/config"
	"evonet/internal/logging"
	"evonet/pkg/evonet"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "evonetctl",
		Short:         "Distributed elitist evolution of fixed-topology neural networks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") || cfg.Logging.Level == "" {
				cfg.Logging.Level = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") || cfg.Logging.Format == "" {
				cfg.Logging.Format = opts.logFormat
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .yml, .ini, .cfg)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto|json|console")

	root.AddCommand(
		newRunCmd(opts),
		newInspectCmd(),
		newHistoryCmd(opts),
		newInitCmd(opts),
		newResetCmd(opts),
	)
	return root
}

type storeFlags struct {
	backend string
	path    string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "store", "", "run ledger backend: memory|sqlite (default from config)")
	cmd.Flags().StringVar(&f.path, "db-path", "", "sqlite database path (default from config)")
}

func (f *storeFlags) apply(cfg *config.Config) {
	if f.backend != "" {
		cfg.Store.Backend = f.backend
	}
	if f.path != "" {
		cfg.Store.Path = f.path
	}
}

func (o *rootOptions) client(cfg *config.Config) (*evonet.Client, error) {
	client, err := evonet.New(evonet.Options{
		StoreKind: cfg.Store.Backend,
		DBPath:    cfg.Store.Path,
		Logger:    o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	return client, nil
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var store storeFlags
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store.apply(opts.cfg)
			client, err := opts.client(opts.cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s\n", opts.cfg.Store.Backend)
			return nil
		},
	}
	store.register(cmd)
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var store storeFlags
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every run ledger record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store.apply(opts.cfg)
			client, err := opts.client(opts.cfg)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset store=%s\n", opts.cfg.Store.Backend)
			return nil
		},
	}
	store.register(cmd)
	return cmd
}

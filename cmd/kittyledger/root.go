package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kittyledger/internal/config"
	"kittyledger/internal/core"
	"kittyledger/internal/infra/archive"
	"kittyledger/internal/infra/balances"
	"kittyledger/internal/infra/events"
	"kittyledger/internal/infra/randomness"
	"kittyledger/pkg/domain"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// app holds everything a subcommand needs, built once per invocation.
type app struct {
	cfg      config.Config
	logger   *core.ZapLogger
	store    core.PersistentStore
	ledger   *balances.Ledger
	recorder *events.Recorder
	chain    *randomness.Collective
	svc      *core.Service
	archive  *archive.Archive
}

const balancesNotice = "Balances are not persisted: every run re-seeds them from the genesis config, " +
	"so stakes reserved by earlier runs are released even when storage.driver is sqlite or postgres."

const rootLong = `kittyledger creates, transfers and breeds kitties on a local ledger.

` + balancesNotice

type rootOptions struct {
	configPath string
	account    uint64
	app        *app
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kittyledger",
		Short:         "kittyledger creates, transfers and breeds kitties",
		Long:          rootLong,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			a, err := newApp(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			opts.app = a
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if opts.app == nil {
				return nil
			}
			err := opts.app.close()
			opts.app = nil
			return err
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (yaml or toml)")
	root.PersistentFlags().Uint64Var(&opts.account, "as", 1, "account signing the call")

	root.AddCommand(
		newCreateCmd(opts),
		newTransferCmd(opts),
		newBreedCmd(opts),
		newShowCmd(opts),
		newHoldingsCmd(opts),
		newLineageCmd(opts),
		newReplayCmd(opts),
		newSnapshotCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) origin() domain.Origin {
	return domain.Signed(domain.AccountID(o.account))
}

func newApp(ctx context.Context, path string) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := core.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	genesis, err := cfg.GenesisBalances()
	if err != nil {
		return nil, err
	}
	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	if cfg.Storage.Driver.Durable() {
		logger.Warn("balances are re-seeded from genesis on every run", "driver", string(cfg.Storage.Driver))
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		ledger:   balances.NewLedger(genesis),
		recorder: events.NewRecorder(),
		chain:    randomness.NewCollective([]byte(time.Now().UTC().Format(time.RFC3339Nano)), randomness.DefaultWindow),
		archive:  archive.New(blobs, nil),
	}
	a.svc = core.NewService(store, a.ledger,
		core.WithLogger(logger),
		core.WithStakeAmount(cfg.StakeAmount()),
		core.WithRandomness(a.chain),
		core.WithEventSink(events.Fanout{a.recorder, events.NewLogSink(logger)}),
	)
	return a, nil
}

func (a *app) close() error {
	err := a.store.Close()
	// stderr sync fails on some platforms; nothing to recover
	_ = a.logger.Sync()
	return err
}

func (o *rootOptions) service() (*app, error) {
	if o.app == nil {
		return nil, errors.New("ledger not initialised")
	}
	return o.app, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kittyledger version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "kittyledger", Version)
		},
	}
}

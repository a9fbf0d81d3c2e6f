package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"genjobs/internal/bootstrap"
	"genjobs/internal/infra"
	"genjobs/internal/jobs"
)

// env is the lazily opened runtime shared by subcommands.
type env struct {
	cfg    *infra.Config
	logger infra.Logger
	stores *bootstrap.Stores
	close  []func()
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = infra.Component(infra.NewLogger(cfg.AppEnv), "jobctl")
	return nil
}

func (e *env) open(ctx context.Context) error {
	if err := e.load(); err != nil {
		return err
	}
	if e.stores != nil {
		return nil
	}
	stores, err := bootstrap.OpenStores(ctx, e.cfg, e.logger)
	if err != nil {
		return err
	}
	e.stores = stores
	e.close = append(e.close, stores.Close)
	return nil
}

func (e *env) machine(ctx context.Context) (*jobs.Machine, error) {
	if err := e.open(ctx); err != nil {
		return nil, err
	}
	fanOut, cleanup, err := bootstrap.NewFanOut(ctx, e.cfg, e.stores, e.logger)
	if err != nil {
		return nil, err
	}
	e.close = append(e.close, cleanup)
	return jobs.NewMachine(e.stores.Jobs, fanOut, &e.logger), nil
}

func (e *env) shutdown() {
	for i := len(e.close) - 1; i >= 0; i-- {
		e.close[i]()
	}
	e.close = nil
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the generation job manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(e),
		newSweepCmd(e),
		newPollCmd(e),
		newJobCmd(e),
		newQueueCmd(e),
		newProviderTokenCmd(e),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genjobs/internal/bootstrap"
	"genjobs/internal/domain"
	"genjobs/internal/infra"
	"genjobs/internal/jobs"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply PostgreSQL schema migrations",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(infra.MigrateUp), string(infra.MigrateDown), string(infra.MigrateStatus)},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.load(); err != nil {
				return err
			}
			if e.cfg.StoreDriver != infra.StoreDriverPostgres {
				return errors.New("migrate: sqlite applies its schema on open")
			}
			return infra.Migrate(cmd.Context(), e.cfg.DatabaseURL, infra.MigrateDirection(args[0]), e.logger)
		},
	}
}

func newSweepCmd(e *env) *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail jobs stuck past the staleness window once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, err := e.machine(cmd.Context())
			if err != nil {
				return err
			}
			window := e.cfg.StaleAfter
			if staleAfter > 0 {
				window = staleAfter
			}
			res, err := jobs.NewReconciler(e.stores.Jobs, machine, window, &e.logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "override the staleness window (e.g. 45m)")
	return cmd
}

func newPollCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Ask the provider about quiet processing jobs once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, err := e.machine(cmd.Context())
			if err != nil {
				return err
			}
			provider, err := bootstrap.NewPredictionClient(cmd.Context(), e.cfg, e.stores, e.logger)
			if err != nil {
				return err
			}
			if !provider.HasCredentials() {
				return errors.New("poll: prediction api key is not configured")
			}
			poller := jobs.NewPoller(e.stores.Jobs, jobs.NewIngress(e.stores.Jobs, machine), provider, e.cfg.PollInterval, &e.logger)
			settled, err := poller.Poll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settled=%d\n", settled)
			return nil
		},
	}
}

func newJobCmd(e *env) *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Inspect or intervene on a single job"}

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job with its artifacts and notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			j, err := e.stores.Jobs.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			artifacts, err := e.stores.Artifacts.ListByJobID(cmd.Context(), j.ID)
			if err != nil {
				return err
			}
			notes, err := e.stores.Notifications.ListByJobID(cmd.Context(), j.ID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"job":           j,
				"artifacts":     artifacts,
				"notifications": notes,
			})
		},
	}

	var reason string
	fail := &cobra.Command{
		Use:   "fail <job-id>",
		Short: "Force an active job into failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := e.machine(cmd.Context())
			if err != nil {
				return err
			}
			current, err := e.stores.Jobs.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var updated *domain.Job
			switch current.Status {
			case domain.JobStatusPending:
				updated, err = machine.FailSubmission(cmd.Context(), current.ID, reason)
			case domain.JobStatusProcessing:
				updated, err = machine.Fail(cmd.Context(), current.ID, reason)
			default:
				return fmt.Errorf("job %s is already %s", current.ID, current.Status)
			}
			if updated == nil && err != nil {
				return err
			}
			if err != nil {
				e.logger.Warn().Err(err).Str("job_id", current.ID).Msg("job failed with incomplete fan-out")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", updated.ID, updated.Status)
			return nil
		},
	}
	fail.Flags().StringVar(&reason, "reason", "cancelled by operator", "error message recorded on the job")

	job.AddCommand(get, fail)
	return job
}

func newQueueCmd(e *env) *cobra.Command {
	queue := &cobra.Command{Use: "queue", Short: "Admission queue commands"}
	var userID string
	status := &cobra.Command{
		Use:   "status",
		Short: "Show active jobs against the admission caps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			admission := jobs.NewAdmission(e.stores.Jobs, bootstrap.Limits(e.cfg))
			if strings.TrimSpace(userID) != "" {
				st, err := admission.Status(cmd.Context(), userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}
			counts, err := e.stores.Jobs.CountActive(cmd.Context(), "")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{
				"activeJobs": counts.Global,
				"maxAllowed": admission.Limits().Global,
			})
		},
	}
	status.Flags().StringVar(&userID, "user", "", "report a single user's queue")
	queue.AddCommand(status)
	return queue
}

func newProviderTokenCmd(e *env) *cobra.Command {
	token := &cobra.Command{Use: "provider-token", Short: "Manage the stored prediction provider token"}
	var value string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the prediction provider API token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := e.open(cmd.Context()); err != nil {
				return err
			}
			if e.stores.Credentials == nil {
				return errors.New("provider-token: requires the postgres store")
			}
			if strings.TrimSpace(value) == "" {
				return errors.New("provider-token: --token is required")
			}
			if err := e.stores.Credentials.SetPredictionToken(cmd.Context(), value); err != nil {
				return fmt.Errorf("provider-token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "prediction token stored")
			return nil
		},
	}
	set.Flags().StringVar(&value, "token", "", "API token")
	token.AddCommand(set)
	return token
}

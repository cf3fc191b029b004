package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iho/cashflow/internal/adapter/http/dto"
	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/infrastructure/logger"
	"github.com/iho/cashflow/internal/infrastructure/postgres"
)

// options are the persistent flags shared by every command.
type options struct {
	baseURL string
	timeout time.Duration
	owner   string
	token   string
	asJSON  bool
}

func (o *options) client() *apiClient {
	return &apiClient{
		baseURL: o.baseURL,
		owner:   o.owner,
		token:   o.token,
		http:    &http.Client{Timeout: o.timeout},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "cashflow-cli",
		Short:         "Cashflow CLI tool",
		Long:          `A command line interface for operating the cashflow engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the cashflow API")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&opts.owner, "owner", os.Getenv("CASHFLOW_OWNER"), "Owner ID sent as X-Owner-ID")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CASHFLOW_TOKEN"), "Bearer token")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	rootCmd.AddCommand(
		materializeCmd(opts),
		runsCmd(opts),
		forecastCmd(opts),
		alertsCmd(opts),
		reverseCmd(opts),
		ledgerCmd(opts),
		migrateCmd(),
	)

	return rootCmd
}

func materializeCmd(opts *options) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Run materialization for a date (today by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date != "" {
				if _, err := domain.ParseDate(date); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			var run dto.RunResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodPost, "/api/v1/materializations",
				dto.RunMaterializationRequest{Date: date}, &run); err != nil {
				return err
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), run)
			}
			return printRuns(cmd.OutOrStdout(), []*dto.RunResponse{&run})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Run date (YYYY-MM-DD)")
	return cmd
}

func runsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect processing runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp dto.ListRunsResponse
			path := "/api/v1/materializations?limit=" + strconv.Itoa(limit)
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printRuns(cmd.OutOrStdout(), resp.Runs)
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "Number of runs")

	getCmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run with per-owner results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run dto.RunResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/materializations/"+url.PathEscape(args[0]), nil, &run); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		},
	}

	cmd.AddCommand(listCmd, getCmd)
	return cmd
}

func forecastCmd(opts *options) *cobra.Command {
	var (
		horizon int
		asOf    string
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project the owner's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if horizon > 0 {
				q.Set("horizon_days", strconv.Itoa(horizon))
			}
			if asOf != "" {
				q.Set("as_of", asOf)
			}
			path := "/api/v1/forecast"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp dto.ForecastResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printForecast(cmd.OutOrStdout(), &resp)
		},
	}
	cmd.Flags().IntVar(&horizon, "horizon", 0, "Horizon in days")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Projection start date (YYYY-MM-DD)")
	return cmd
}

func alertsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Alert operations",
	}

	var all bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/alerts"
			if all {
				path += "?all=true"
			}
			return fetchAlerts(cmd, opts, http.MethodGet, path)
		},
	}
	listCmd.Flags().BoolVar(&all, "all", false, "Include dismissed and snoozed alerts")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Re-evaluate the owner's alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAlerts(cmd, opts, http.MethodPost, "/api/v1/alerts/evaluate")
		},
	}

	dismissCmd := &cobra.Command{
		Use:   "dismiss <alert-id>",
		Short: "Dismiss an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var alert dto.AlertResponse
			path := "/api/v1/alerts/" + url.PathEscape(args[0]) + "/dismiss"
			if _, err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, &alert); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), alert)
		},
	}

	cmd.AddCommand(listCmd, evaluateCmd, dismissCmd)
	return cmd
}

func fetchAlerts(cmd *cobra.Command, opts *options, method, path string) error {
	var resp dto.ListAlertsResponse
	if _, err := opts.client().do(cmd.Context(), method, path, nil, &resp); err != nil {
		return err
	}
	if opts.asJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	return printAlerts(cmd.OutOrStdout(), resp.Alerts)
}

func reverseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <transaction-id>",
		Short: "Reverse a recorded payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var txn dto.TransactionResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodDelete, "/api/v1/transactions/"+url.PathEscape(args[0]), nil, &txn); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txn)
		},
	}
}

func ledgerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
	}

	consistencyCmd := &cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.ConsistencyResponse
			if _, err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/ledger/consistency", nil, &report, http.StatusConflict); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "Checked obligations: %d\n", report.CheckedObligations)
				for _, d := range report.DuplicateCurrentBalances {
					fmt.Fprintf(out, "Duplicate current balance: owner=%s scope=%s count=%d\n", d.OwnerID, d.Scope, d.Count)
				}
				for _, d := range report.CounterDiscrepancies {
					fmt.Fprintf(out, "Counter mismatch: obligation=%s counter=%d materialized=%d orphaned=%v\n",
						d.ObligationID, d.Counter, d.Materialized, d.Orphaned)
				}
			}

			if !report.Consistent {
				return fmt.Errorf("consistency check FAILED")
			}
			fmt.Fprintln(out, "Consistency check PASSED")
			return nil
		},
	}

	cmd.AddCommand(consistencyCmd)
	return cmd
}

func migrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")

	migrator := func(cmd *cobra.Command) (*postgres.Migrator, error) {
		if databaseURL == "" {
			return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
		}
		log := logger.New(logger.Config{Level: "info", Format: "console", Output: cmd.ErrOrStderr()})
		return postgres.NewMigrator(databaseURL, log), nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			return m.Up()
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			return m.Down()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := migrator(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%v\n", version, dirty)
			return nil
		},
	}

	cmd.AddCommand(upCmd, downCmd, versionCmd)
	return cmd
}

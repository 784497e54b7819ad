package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"incubant/go-deployer/internal/deploy"
	"incubant/go-deployer/internal/history"

	"github.com/spf13/cobra"
)

func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded deployment runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rootOpts.logger(cmd.ErrOrStderr())
			cfg, err := rootOpts.loadConfig(log)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("history-db") {
				cfg.HistoryDB = dbPath
			}
			if cfg.HistoryDB == "" {
				return NewExitError(ExitInvalidInput, "no history database: set --history-db or historyDb in the config")
			}

			store, err := history.Open(cmd.Context(), cfg.HistoryDB)
			if err != nil {
				return WrapExitError(ExitStorageFailed, "open history database", err)
			}
			defer func() { _ = store.Close() }()

			out := output{format: rootOpts.Format, w: cmd.OutOrStdout()}
			if len(args) == 1 {
				rec, ok, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return WrapExitError(ExitStorageFailed, "load run", err)
				}
				if !ok {
					return NewExitError(ExitInvalidInput, "unknown run "+args[0])
				}
				return out.emit(rec, func(w io.Writer) error {
					return writeRunDetail(w, rec)
				})
			}

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitStorageFailed, "list runs", err)
			}
			return out.emit(runs, func(w io.Writer) error {
				return writeRunTable(w, runs)
			})
		},
	}
	cmd.Flags().StringVar(&dbPath, "history-db", "", "SQLite history database")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}

func writeRunTable(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No deployments recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tDEPLOYED AT\tNETWORK\tSTATUS\tDEPLOYED\tDEPLOYER")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			r.RunID,
			r.DeployedAt.UTC().Format(time.RFC3339),
			r.Network,
			r.Status,
			r.Succeeded,
			r.Total,
			r.DeployerAddress,
		)
	}
	return tw.Flush()
}

func writeRunDetail(w io.Writer, rec deploy.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Run %s on %s at %s: %s\n", rec.RunID, rec.Network, rec.DeployedAt.UTC().Format(time.RFC3339), rec.Status)
	_, _ = fmt.Fprintln(tw, "CONTRACT\tNONCE\tRESULT")
	for _, o := range rec.Contracts {
		result := o.TxID
		if !o.Succeeded() {
			result = "error: " + o.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Artifact, o.Nonce, result)
	}
	return tw.Flush()
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func runsCMD(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect journaled research runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.journal == nil {
				return errors.New("no journal configured (memory.path)")
			}

			runs, err := a.journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tEVENTS\tQUESTION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Status, r.StartedAt.Format(time.DateTime), r.Events, r.Question)
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a run's events as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.journal == nil {
				return errors.New("no journal configured (memory.path)")
			}

			run, err := a.journal.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entries, err := a.journal.Events(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s  %s  %q\n", run.ID, run.Status, run.Question)
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e.Payload); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

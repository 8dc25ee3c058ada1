package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chitfund/internal/config"
	"chitfund/internal/fund"
	"chitfund/internal/recorder"
)

var (
	flagUpTo int
	flagJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print a fund snapshot, or one participant's standing with -p",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(_ context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			var v any = m.Snapshot(t)
			if flagParticipant != "" {
				ps, err := m.ParticipantStatus(flagParticipant, t)
				if err != nil {
					return err
				}
				v = ps
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		})
	},
}

var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "flag missed contributions for completed cycles and list defaulters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			flagged, err := m.EvaluateDefaults(ctx, flagUpTo, t)
			if err != nil {
				return err
			}
			defaults := m.Defaulters(flagged)
			out := cmd.OutOrStdout()
			if flagJSON {
				return json.NewEncoder(out).Encode(defaults)
			}
			if len(defaults) == 0 {
				fmt.Fprintln(out, "no defaults")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CYCLE\tPARTICIPANT\tMISSED\tDUE")
			for _, d := range defaults {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", d.Cycle, d.Participant, d.MissedAt.Format(time.RFC3339), d.AmountDue)
			}
			return w.Flush()
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "print the recorded events and money flows of a fund",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRecorder(func(_ *config.Config, rec recorder.Recorder) error {
			events, err := rec.Events(flagFund)
			if err != nil {
				return err
			}
			totals, err := rec.Totals(flagFund)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flagJSON {
				return json.NewEncoder(out).Encode(struct {
					Events any             `json:"events"`
					Totals recorder.Totals `json:"totals"`
				}{events, totals})
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tPARTICIPANT\tCYCLE\tAMOUNT\tPOOL")
			for _, e := range events {
				cycle := "-"
				if e.Cycle >= 0 {
					cycle = fmt.Sprint(e.Cycle)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", e.At.Format("2006-01-02 15:04:05"),
					e.Type, e.Participant, cycle, e.Amount, e.PoolAfter)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\ncontributed %d, paid out %d, pool %d, staked %d, withdrawn %d\n",
				totals.Contributed, totals.PaidOut, totals.Pool(), totals.Staked, totals.Withdrawn)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().StringVarP(&flagParticipant, "participant", "p", "", "show one participant")
	defaultsCmd.Flags().IntVar(&flagUpTo, "up-to", math.MaxInt32, "last cycle to evaluate")
	defaultsCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	historyCmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
}

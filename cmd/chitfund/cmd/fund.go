package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chitfund/internal/config"
	"chitfund/internal/fund"
	"chitfund/internal/model"
	"chitfund/internal/recorder"
	"chitfund/internal/registry"
)

var (
	flagFund        string
	flagParticipant string
	flagAmount      int64
	flagFundFile    string
	flagFundID      string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "create a fund from a YAML definition",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := os.ReadFile(flagFundFile)
		if err != nil {
			return fmt.Errorf("read fund file: %w", err)
		}
		var fc model.FundConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parse fund file: %w", err)
		}
		return withRegistry(func(ctx context.Context, reg *registry.Registry) error {
			t, err := now()
			if err != nil {
				return err
			}
			var m *fund.Machine
			if flagFundID != "" {
				m, err = reg.CreateWithID(ctx, flagFundID, fc, t)
			} else {
				m, err = reg.Create(ctx, fc, t)
			}
			if err != nil {
				return err
			}
			sum := m.Summary(t)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\ncollateral %d, contribution %d, pool per cycle %d\n",
				sum.ID, sum.CollateralAmount, sum.ContributionPerCycle, sum.ContributionPerCycle*int64(sum.ParticipantCount))
			return nil
		})
	},
}

var stakeCmd = &cobra.Command{
	Use:   "stake",
	Short: "post a participant's collateral",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			amount := flagAmount
			if amount < 0 {
				amount = m.Summary(t).CollateralAmount
			}
			if err := m.Stake(ctx, flagParticipant, amount, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staked %d for %s\n", amount, flagParticipant)
			return nil
		})
	},
}

var contributeCmd = &cobra.Command{
	Use:   "contribute",
	Short: "pay a participant's share for the running cycle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			amount := flagAmount
			if amount < 0 {
				amount = m.Summary(t).ContributionPerCycle
			}
			if err := m.Contribute(ctx, flagParticipant, amount, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s contributed %d\n", flagParticipant, amount)
			return nil
		})
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "draw the running cycle's pool as its recipient",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			paid, err := m.Claim(ctx, flagParticipant, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "paid %d to %s\n", paid, flagParticipant)
			return nil
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw",
	Short: "return a participant's collateral after completion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			amount, err := m.WithdrawCollateral(ctx, flagParticipant, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "returned %d to %s\n", amount, flagParticipant)
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "cancel a fund that has not started and refund collateral",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withFund(func(ctx context.Context, m *fund.Machine) error {
			t, err := now()
			if err != nil {
				return err
			}
			refunds, err := m.Cancel(ctx, t)
			if err != nil {
				return err
			}
			addrs := make([]string, 0, len(refunds))
			for a := range refunds {
				addrs = append(addrs, a)
			}
			sort.Strings(addrs)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "fund %s cancelled\n", m.ID())
			for _, a := range addrs {
				fmt.Fprintf(out, "refund %d to %s\n", refunds[a], a)
			}
			return nil
		})
	},
}

func init() {
	createCmd.Flags().StringVarP(&flagFundFile, "file", "f", "", "fund definition (YAML)")
	createCmd.Flags().StringVar(&flagFundID, "id", "", "fund id (generated when empty)")
	_ = createCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{stakeCmd, contributeCmd, claimCmd, withdrawCmd} {
		c.Flags().StringVarP(&flagParticipant, "participant", "p", "", "participant address")
		_ = c.MarkFlagRequired("participant")
	}
	for _, c := range []*cobra.Command{stakeCmd, contributeCmd} {
		c.Flags().Int64Var(&flagAmount, "amount", -1, "amount in smallest units (defaults to the fund's terms)")
	}
	for _, c := range []*cobra.Command{stakeCmd, contributeCmd, claimCmd, withdrawCmd, cancelCmd, statusCmd, defaultsCmd, historyCmd} {
		c.Flags().StringVar(&flagFund, "fund", "", "fund id")
		_ = c.MarkFlagRequired("fund")
	}
}

// withRegistry loads every stored fund with the configured event sinks attached.
func withRegistry(fn func(ctx context.Context, reg *registry.Registry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := fund.NewFileStore(cfg.Store.StateDir)
	if err != nil {
		return err
	}
	rec := openRecorder(cfg)
	defer rec.Close()

	ctx := context.Background()
	reg := registry.New(store, rec)
	if _, err := reg.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, reg)
}

func withFund(fn func(ctx context.Context, m *fund.Machine) error) error {
	return withRegistry(func(ctx context.Context, reg *registry.Registry) error {
		m, err := reg.Get(flagFund)
		if err != nil {
			return err
		}
		if err := fn(ctx, m); err != nil {
			log.Debug().Err(err).Str("fund", flagFund).Str("code", string(model.CodeOf(err))).Msg("operation rejected")
			return err
		}
		return nil
	})
}

// withRecorder opens the history database only, for read-only commands.
func withRecorder(fn func(cfg *config.Config, rec recorder.Recorder) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec := openRecorder(cfg)
	defer rec.Close()
	return fn(cfg, rec)
}

package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/storage"
)

func profilesCmd(opts *rootOptions) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List profiles and their recent activations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := printProfiles(cmd, cfg); err != nil {
				return err
			}
			if history <= 0 || len(cfg.Profiles) == 0 {
				return nil
			}

			store, err := storage.NewManager(cfg.DataDir, zap.NewNop().Sugar())
			if err != nil {
				// the database is locked while serve runs
				fmt.Fprintf(cmd.ErrOrStderr(), "activation history unavailable: %v\n", err)
				return nil
			}
			defer store.Close()
			return printActivations(cmd, cfg, store, history)
		},
	}
	cmd.Flags().IntVar(&history, "history", 3, "activation records to show per profile (0 disables)")
	return cmd
}

func printProfiles(cmd *cobra.Command, cfg *config.Config) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAUTO\tMEMBERS")
	for _, p := range cfg.Profiles {
		members := make([]string, 0, len(p.Members))
		for _, m := range p.Members {
			label := fmt.Sprintf("%s@%d", m.ServerID, m.StartupOrder)
			if m.Required {
				label += "!"
			}
			if !m.ShouldAutoConnect() {
				label += "(manual)"
			}
			members = append(members, label)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", p.ID, p.Name, p.AutoActivate, strings.Join(members, " "))
	}
	return w.Flush()
}

func printActivations(cmd *cobra.Command, cfg *config.Config, store *storage.Manager, limit int) error {
	active, err := store.LoadActiveProfile()
	if err != nil {
		return fmt.Errorf("failed to load active profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if active != nil {
		fmt.Fprintf(out, "Active profile: %s (since %s)\n", active.ProfileID, active.ActivatedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Active profile: none")
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tACTIVATED\tCONNECTED\tFAILED\tSKIPPED\tSTATE")
	for _, p := range cfg.Profiles {
		records, err := store.ListActivations(p.ID, limit)
		if err != nil {
			return fmt.Errorf("failed to list activations for %s: %w", p.ID, err)
		}
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				p.ID, rec.ActivatedAt.Format(time.RFC3339),
				rec.SuccessCount, rec.FailureCount, rec.SkippedCount, activationState(rec))
		}
	}
	return w.Flush()
}

func activationState(rec *storage.ActivationRecord) string {
	switch {
	case !rec.IsOpen():
		return "deactivated"
	case rec.CompletedAt == nil:
		return "activating"
	default:
		return "completed"
	}
}

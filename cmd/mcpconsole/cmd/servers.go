package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mcpconsole-go/internal/config"
)

func serversCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers, their transports and profile membership",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			return printServers(cmd, cfg)
		},
	}
}

func printServers(cmd *cobra.Command, cfg *config.Config) error {
	membership := make(map[string][]string)
	for _, p := range cfg.Profiles {
		for _, id := range p.ServerIDs() {
			membership[id] = append(membership[id], p.Name)
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tTARGET\tPROFILES")
	for _, s := range cfg.Servers {
		profiles := "-"
		if names := membership[s.ID]; len(names) > 0 {
			profiles = strings.Join(names, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Transport.Type, target(s.Transport), profiles)
	}
	return w.Flush()
}

func target(t config.TransportConfig) string {
	switch {
	case t.Command != "":
		return strings.TrimSpace(t.Command + " " + strings.Join(t.Args, " "))
	case t.URL != "":
		return t.URL
	case t.Host != "":
		return fmt.Sprintf("%s:%d", t.Host, t.Port)
	case t.Path != "":
		return t.Path
	}
	return "-"
}

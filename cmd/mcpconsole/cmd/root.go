package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mcpconsole-go/internal/config"
)

// flag name -> configuration key
var flagBindings = map[string]string{
	"listen":    "listen",
	"data-dir":  "data_dir",
	"log-level": "logging.level",
}

type rootOptions struct {
	configPath string
	viper      *viper.Viper
}

func (o *rootOptions) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultConfigPath()
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.viper, o.path())
}

// RootCmd is the mcpconsole command tree. Persistent flags override the
// configuration file and MCPCONSOLE_* environment variables.
func RootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{viper: config.NewViper()})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mcpconsole",
		Short:        "mcpconsole manages a fleet of MCP servers from one operator console.",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (default ~/.mcpconsole/config.json)")
	flags.String("listen", "", "address of the HTTP shell")
	flags.String("data-dir", "", "directory for the database and log files")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	for flag, key := range flagBindings {
		_ = opts.viper.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(
		serveCmd(opts),
		serversCmd(opts),
		profilesCmd(opts),
		versionCmd(),
	)
	return cmd
}

// Package cli wires the fleetview command surface.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mkotake/fleetview/internal/config"
	"github.com/mkotake/fleetview/internal/discovery"
	"github.com/mkotake/fleetview/internal/model"
)

const envPrefix = "FLEETVIEW"

type options struct {
	ServeCommand     string
	Servers          []string
	DiscoverInterval time.Duration
	HealthTimeout    time.Duration
	JournalPath      string
	NoJournal        bool
	FallbackBaseURL  string
}

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	opts := &options{}
	defaults := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:           "fleetview",
		Short:         "fleetview: a unified view over local agent servers",
		Long:          "fleetview discovers backend agent servers running on this host, follows their event streams, and presents one consistently ordered view of sessions, messages and parts across all of them.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ServeCommand, "serve-command", "opencode", "process name discovery scans for")
	flags.StringArrayVar(&opts.Servers, "server", nil, "static server as port:directory (repeatable; disables process discovery)")
	flags.DurationVar(&opts.DiscoverInterval, "discover-interval", defaults.DiscoverInterval, "discovery poll interval")
	flags.DurationVar(&opts.HealthTimeout, "health-timeout", defaults.HealthTimeout, "max stream silence before a connection is cycled")
	flags.StringVar(&opts.JournalPath, "journal", defaults.JournalPath, "event journal sqlite path")
	flags.BoolVar(&opts.NoJournal, "no-journal", false, "disable the event journal")
	flags.StringVar(&opts.FallbackBaseURL, "fallback", defaults.FallbackBaseURL, "base URL used when no routing info exists")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd, viper.New())
	}

	rootCmd.AddCommand(
		newWatchCmd(opts),
		newSessionsCmd(opts),
		newSendCmd(opts),
		newStatusCmd(opts),
		newJournalCmd(opts),
	)
	return rootCmd
}

// bindFlags lets FLEETVIEW_* environment variables stand in for any flag the
// user did not set explicitly.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr != nil || flag.Changed || !v.IsSet(flag.Name) {
			return
		}
		if err := flag.Value.Set(v.GetString(flag.Name)); err != nil {
			bindErr = fmt.Errorf("bind %s_%s: %w", envPrefix, strings.ToUpper(strings.ReplaceAll(flag.Name, "-", "_")), err)
		}
	})
	return bindErr
}

func (o *options) config() config.Config {
	cfg := config.DefaultConfig()
	cfg.DiscoverInterval = o.DiscoverInterval
	cfg.HealthTimeout = o.HealthTimeout
	cfg.JournalPath = o.JournalPath
	if o.FallbackBaseURL != "" {
		cfg.FallbackBaseURL = o.FallbackBaseURL
	}
	return cfg
}

// provider builds the discovery provider: explicit --server pairs win over
// process scanning.
func (o *options) provider() (discovery.Provider, error) {
	if len(o.Servers) == 0 {
		return discovery.NewProcessScanner(o.ServeCommand), nil
	}
	servers := make([]model.ServerInfo, 0, len(o.Servers))
	for _, spec := range o.Servers {
		info, err := parseServerSpec(spec)
		if err != nil {
			return nil, err
		}
		servers = append(servers, info)
	}
	return discovery.Static(servers...), nil
}

func parseServerSpec(spec string) (model.ServerInfo, error) {
	portStr, directory, ok := strings.Cut(spec, ":")
	if !ok || directory == "" {
		return model.ServerInfo{}, fmt.Errorf("invalid --server %q, want port:directory", spec)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return model.ServerInfo{}, fmt.Errorf("invalid --server port %q", portStr)
	}
	return model.ServerInfo{Port: port, Directory: directory}, nil
}

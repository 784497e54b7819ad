package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"incubant/go-deployer/internal/bootstrap/deployconfig"
	"incubant/go-deployer/internal/platform/privacylog"

	"github.com/spf13/cobra"
)

const (
	formatText = "text"
	formatJSON = "json"
)

var validFormats = []string{formatText, formatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Format     string
	LogFormat  string
	Verbose    bool
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "incubant-deploy",
		Short: "Deploy the incubator contract suite to a Stacks network",
		Long: `Deploy an ordered set of Clarity contracts from one deployer account.

Contracts are submitted one at a time with consecutive nonces. The run stops
at the first rejected submission and writes a deployment record listing what
was deployed, so a later run can resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return NewExitError(ExitInvalidInput, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats))
			}
			if !slices.Contains(validFormats, opts.LogFormat) {
				return NewExitError(ExitInvalidInput, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, validFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default deploy.yaml or configs/deploy.yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatText, "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", formatText, "log format on stderr (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewAddressCommand(opts))
	cmd.AddCommand(NewKeystoreCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return privacylog.NewLogger(w, o.LogFormat, level)
}

// loadConfig reads the dotenv file, then the config file and environment.
func (o *RootOptions) loadConfig(log *slog.Logger) (deployconfig.Config, error) {
	loaded, err := deployconfig.LoadDotEnv(o.EnvFile)
	if err != nil {
		return deployconfig.Config{}, classify("load env file", err)
	}
	if loaded {
		log.Debug("loaded env file", "env_file", o.EnvFile)
	}
	cfg, used, err := deployconfig.LoadFromPath(o.ConfigPath)
	if err != nil {
		return deployconfig.Config{}, classify("load config", err)
	}
	if used != "" {
		log.Debug("loaded config", "path", used)
	}
	return cfg, nil
}

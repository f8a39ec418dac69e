package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ericfisherdev/staticdeploy/internal/config"
	"github.com/ericfisherdev/staticdeploy/internal/domain/model"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootFlags struct {
	configFile string
	logOutput  io.Writer
}

func newRootCmd(logOutput io.Writer) *cobra.Command {
	flags := &rootFlags{logOutput: logOutput}

	root := &cobra.Command{
		Use:   "staticdeploy",
		Short: "Build and publish a static site to an object-storage bucket",
		Long: `staticdeploy resolves a branch, pull request or tag, optionally waits for
approval, builds the site, syncs it to a bucket prefix and invalidates the CDN.

Every option can be given as a flag, as a STATICDEPLOY_<OPTION> environment
variable or as a key of the --config file; flags win over the environment,
which wins over the file.

Runs against the same bucket and prefix are not serialised: run at most one
deployment per environment at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	})

	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML or TOML config file (env STATICDEPLOY_CONFIG)")
	registerOptionFlags(root.PersistentFlags())

	root.AddCommand(newDeployCmd(flags), newHistoryCmd(flags), newVersionCmd())
	return root
}

// registerOptionFlags adds one string flag per configuration option. Boolean
// options accept the bare flag as true.
func registerOptionFlags(fs *pflag.FlagSet) {
	for _, o := range config.Options() {
		fs.String(o.Flag(), o.Default, fmt.Sprintf("%s (env %s)", o.Usage, o.Env()))
		if o.Kind == config.KindBool {
			fs.Lookup(o.Flag()).NoOptDefVal = "true"
		}
	}
}

// loadConfig resolves the configuration from the --config file, the
// environment and the flags explicitly set on cmd, then installs the logger.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	keys := map[string]string{}
	for _, o := range config.Options() {
		keys[o.Flag()] = o.Key
	}

	values := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := keys[f.Name]; ok {
			values[key] = f.Value.String()
		}
	})

	file := flags.configFile
	if file == "" {
		file = os.Getenv("STATICDEPLOY_CONFIG")
	}

	cfg, err := config.Load(config.LoadOptions{File: file, Flags: values})
	if err != nil {
		return nil, err
	}
	setupLogger(cfg, flags.logOutput)
	return cfg, nil
}

// setupLogger installs the slog default handler chosen by log_format and log_level.
func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "staticdeploy %s\n", version)
			return err
		},
	}
}

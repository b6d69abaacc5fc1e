package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-channel/engine"
	"github.com/amikos-tech/onnx-channel/internal/app"
	"github.com/amikos-tech/onnx-channel/internal/config"
	"github.com/amikos-tech/onnx-channel/internal/logging"
)

// newEngineOpener is swapped in tests.
var newEngineOpener func(config.Config, *zap.Logger) engine.Opener = app.NewOpener

type globalFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	libraryPath string
}

// cli carries state resolved once by the root command's PersistentPreRunE.
type cli struct {
	flags  globalFlags
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "onnx-channel",
		Short: "ONNX classifier inference behind a method channel",
		Long: `onnx-channel loads an ONNX classification model and answers
initialize, predict, dispose and checkOrt calls on the oggrow/onnx_runtime channel.

The channel is served over HTTP and websocket (serve) or newline-delimited JSON
on stdin/stdout (stdio). predict, inspect and doctor work without a server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&c.flags.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&c.flags.logFormat, "log-format", "", "log format: console|json")
	pf.StringVar(&c.flags.libraryPath, "library-path", "", "ONNX Runtime shared library (overrides "+config.EnvLibraryPath+")")

	root.AddCommand(
		newServeCmd(c),
		newStdioCmd(c),
		newPredictCmd(c),
		newInspectCmd(c),
		newDoctorCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.flags.configPath)
	if err != nil {
		return err
	}
	if c.flags.logLevel != "" {
		cfg.Log.Level = c.flags.logLevel
	}
	if c.flags.logFormat != "" {
		cfg.Log.Format = c.flags.logFormat
	}
	if c.flags.libraryPath != "" {
		cfg.Runtime.LibraryPath = c.flags.libraryPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func (c *cli) opener() engine.Opener {
	return newEngineOpener(c.cfg, c.logger)
}

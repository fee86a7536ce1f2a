package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/logging"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagLogFile   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	client    *Client
)

// defaultServer returns the default API URL, checking RRSCHED_SERVER first.
func defaultServer() string {
	if s := os.Getenv("RRSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the rrsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rrsched",
		Short: "rrsched: per-interval radio resource scheduler",
		Long: "rrsched runs scheduling scenarios frame by frame, records their probes\n" +
			"and serves recorded runs over a JSON API.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				c.Log.Level = flagLogLevel
			}
			if flags.Changed("log-format") {
				c.Log.Format = flagLogFormat
			}
			if flags.Changed("log-file") {
				c.Log.File.Path = flagLogFile
			}
			if flagDebug {
				c.Log.Level = "debug"
			}
			if !logging.ValidLevel(c.Log.Level) {
				return fmt.Errorf("invalid log level %q", c.Log.Level)
			}
			cfg = c
			logger, logCloser = logging.Open(logging.ParseLevel(c.Log.Level), c.Log.Format, c.Log.File)
			client = NewClient(flagServer, logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Config file (or RRSCHED_CONFIG env; default ./rrsched.yaml)")
	pf.StringVar(&flagServer, "server", defaultServer(), "rrsched API URL (or RRSCHED_SERVER env)")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	pf.StringVar(&flagLogFile, "log-file", "", "Write logs to this file with rotation instead of stderr")

	root.AddCommand(
		newRunCmd(),
		newGroupCmd(),
		newModesCmd(),
		newServeCmd(),
		newListCmd(),
		newStatusCmd(),
	)

	return root
}

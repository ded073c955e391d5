package cmd

import (
	"io"
	"os"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/internal/config"
	"github.com/edupoll/edupoll/pkg/logger"
)

var (
	out io.Writer = os.Stdout
	in  io.Reader = os.Stdin

	loadConfig = config.Load
)

// readConfig loads the configuration named by --config, or the default
// search path when the flag is empty.
func readConfig(ctx *cli.Context) (*config.Config, error) {
	return loadConfig(ctx.String("config"))
}

// newLogger builds the logger selected by the logging section. Log output
// goes to stderr so command output on stdout stays parseable.
func newLogger(cfg *config.Config) logger.Logger {
	return logger.New(os.Stderr, cfg.Logging.Format, logger.ParseLevel(cfg.Logging.Level))
}

package cmd

import (
	"errors"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/internal/config"
	"github.com/edupoll/edupoll/internal/daemon"
)

var newRunner = daemon.New

// runDaemon runs until SIGINT or SIGTERM. A configuration that fails to load
// does not stop it: the runner starts idle on the built-in defaults and
// reports the error over RPC.
func runDaemon(ctx *cli.Context) error {
	cfg, cfgErr := readConfig(ctx)
	if cfgErr != nil {
		cfg = config.Default()
	}
	l := newLogger(cfg)
	defer l.Close()
	if cfgErr != nil {
		l.Error("config: %v", cfgErr)
	}

	r := newRunner(cfg, cfgErr, &daemon.Dependencies{
		Logger:  l,
		Version: daemon.Version{Version: buildInfo.Version, Commit: buildInfo.Commit},
	})

	sctx, cancel := setupShutdownHandler()
	defer cancel()

	l.Info("edupoll %s starting", buildInfo.Version)
	err := r.Start(sctx)
	if err != nil && !errors.Is(err, daemon.ErrShutdownTimeout) {
		common.PrintRuntimeErr(ctx, "daemon", "start", err)
		return err
	}
	if err != nil {
		l.Warning("daemon: %v", err)
	}
	l.Info("daemon stopped")
	return nil
}

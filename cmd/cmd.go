package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// buildInfo is what system.getVersion reports.
var buildInfo BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	buildInfo = bArgs
	app := cli.App{
		Name:                  "edupoll",
		HelpName:              "edupoll",
		Usage:                 "An EduPage timetable poller.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "edupoll <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          common.UsageErrorCallback,
		Commands: []cli.Command{
			{
				Name:               "daemon",
				Aliases:            []string{"d"},
				Usage:              "poll the portal on a schedule",
				Description:        DaemonDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             runDaemon,
				Flags:              daemonFlags,
			},
			{
				Name:               "sync",
				Aliases:            []string{"s"},
				Usage:              "run one sync cycle and print the result",
				Description:        SyncDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             syncOnce,
				Flags:              syncFlags,
			},
			{
				Name:               "status",
				Usage:              "show the state of a running daemon",
				Description:        StatusDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             status,
				Flags:              statusFlags,
			},
			{
				Name:               "decode",
				Usage:              "decode an eqap envelope",
				UsageText:          "edupoll decode <eqap>",
				Description:        DecodeDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             decode,
			},
			{
				Name:               "encode",
				Usage:              "encode fields into an eqap envelope",
				UsageText:          "edupoll encode [--compress] key=value...",
				Description:        EncodeDescription,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				OnUsageError:       common.UsageErrorCallback,
				Action:             encode,
				Flags:              encodeFlags,
			},
			{
				Name:  "credentials",
				Usage: "manage secrets in the encrypted vault",
				Subcommands: []cli.Command{
					{
						Name:               "set",
						Usage:              "store a secret",
						UsageText:          "edupoll credentials set [password|session_token]",
						Description:        CredentialsDescription,
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             credentialsSet,
						Flags:              credentialsFlags,
					},
					{
						Name:               "delete",
						Usage:              "remove a secret",
						UsageText:          "edupoll credentials delete [password|session_token]",
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             credentialsDelete,
						Flags:              credentialsDeleteFlags,
					},
					{
						Name:   "list",
						Usage:  "list stored secret names",
						Action: credentialsList,
						Flags:  credentialsFlags,
					},
				},
			},
			{
				Name: "cookies",
				Subcommands: []cli.Command{
					{
						Name:               "import",
						Usage:              "show which portal cookies a browser store holds",
						UsageText:          "edupoll cookies import [store path|auto]",
						Description:        CookiesDescription,
						CustomHelpTemplate: CMD_HELP_TEMPL,
						OnUsageError:       common.UsageErrorCallback,
						Action:             cookiesImport,
						Flags:              []cli.Flag{configFlag},
					},
				},
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  common.Help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of edupoll",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             common.GetVersion,
			},
		},
		Action:      runDaemon,
		Flags:       daemonFlags,
		HideHelp:    true,
		HideVersion: true,
	}
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name,
		app.Version,
		runtime.GOOS,
		runtime.GOARCH,
		bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}

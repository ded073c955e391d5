package cmd

import (
	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/internal/config"
)

const DESCRIPTION = `
edupoll logs in to an EduPage school portal on a schedule, fetches
today's and tomorrow's timetable and keeps the lessons, holidays and
the next lesson in a local state store that other tools can query.
`

const (
	DaemonDescription = `The daemon command runs a sync cycle at startup and then
on every interval (or cron) tick. A status endpoint is served on
rpc.listen while it runs.

Example:
        edupoll daemon --config /etc/edupoll.yaml

`
	SyncDescription = `The sync command runs a single cycle against the portal,
writes the result to the state store and prints a summary.

Example:
        edupoll sync

`
	StatusDescription = `The status command asks a running daemon for its last
cycle, the next scheduled run and any active captcha backoff.

Example:
        edupoll status --addr 127.0.0.1:8377

`
	DecodeDescription = `The decode command prints the query string carried in
an eqap envelope, as captured from browser traffic.

Example:
        edupoll decode 'dz:...'

`
	EncodeDescription = `The encode command builds an eqap envelope from
key=value pairs and prints it with its eqacs checksum.

Example:
        edupoll encode --compress username=jane password=secret

`
	CredentialsDescription = `The credentials command stores the portal password or
a session token in the encrypted vault under vault.dir. The master
key lives in the system keyring or, failing that, next to the vault.
The value is read from standard input.

Example:
        edupoll credentials set password

`
	CookiesDescription = `The cookies import command reads a Firefox or Chrome
cookie database, or a Netscape cookies.txt, and lists the cookies it
would hand to the portal session. Set portal.cookies_from to the same
path to import them at daemon start.

Example:
        edupoll cookies import auto

`
)

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the YAML configuration file",
	EnvVar: config.PathEnvVar,
}

var (
	daemonFlags = []cli.Flag{
		configFlag,
	}
	syncFlags = []cli.Flag{
		configFlag,
		cli.BoolFlag{
			Name:  "json",
			Usage: "print the cycle result as JSON",
		},
	}
	statusFlags = []cli.Flag{
		configFlag,
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "daemon RPC address (defaults to rpc.listen)",
		},
		cli.StringFlag{
			Name:   "secret",
			Usage:  "bearer secret for the RPC endpoint (defaults to rpc.secret)",
			EnvVar: "EDUPOLL_RPC_SECRET",
		},
		cli.BoolFlag{
			Name:  "now",
			Usage: "run a cycle before reporting",
		},
	}
	encodeFlags = []cli.Flag{
		cli.BoolFlag{
			Name:  "compress, z",
			Usage: "deflate the payload (dz: prefix)",
		},
	}
	credentialsFlags = []cli.Flag{
		configFlag,
		cli.StringFlag{
			Name:  "dir",
			Usage: "vault directory (defaults to vault.dir)",
		},
	}
	credentialsDeleteFlags = []cli.Flag{
		configFlag,
		cli.StringFlag{
			Name:  "dir",
			Usage: "vault directory (defaults to vault.dir)",
		},
		cli.BoolFlag{
			Name:  "yes, y",
			Usage: "do not ask for confirmation",
		},
	}
)

package cmd

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/internal/cookies"
)

var newImporter = cookies.NewImporter

// cookiesImport lists the portal cookies a store would contribute. Values
// are never printed.
func cookiesImport(ctx *cli.Context) error {
	cfg, err := readConfig(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "load_config", err)
		return err
	}
	if cfg.Portal.BaseURL == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("portal.base_url is not configured"))
	}
	u, err := url.Parse(cfg.Portal.BaseURL)
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "parse_url", err)
		return err
	}
	path := ctx.Args().First()
	if path == "" {
		path = cookies.Auto
	}

	l := newLogger(cfg)
	defer l.Close()
	found, src, err := newImporter(l).Import(path, u.Hostname())
	if err != nil {
		common.PrintRuntimeErr(ctx, "cookies", "import", err)
		return err
	}
	fmt.Fprintf(out, "%s store %s (%s): %d cookie(s) for %s\n", src.Browser, src.Path, src.Format, len(found), u.Hostname())
	for _, c := range found {
		exp := "session"
		if !c.Expiry.IsZero() {
			exp = c.Expiry.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "  %-24s %-28s %s\n", c.Name, c.Domain, exp)
	}
	if cfg.Portal.CookiesFrom != path {
		fmt.Fprintf(out, "\nSet portal.cookies_from to %q to load them at daemon start.\n", src.Path)
	}
	return nil
}

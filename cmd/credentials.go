package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/pkg/credman"
)

type secretStore interface {
	Set(name, value string) error
	Delete(name string) error
	Names() []string
	Path() string
}

var openVault = func(dir string) (secretStore, error) { return credman.OpenDefault(dir) }

var secretNames = map[string]string{
	"password":      credman.SecretPassword,
	"session_token": credman.SecretSessionToken,
}

func secretName(ctx *cli.Context) (string, error) {
	arg := ctx.Args().First()
	if arg == "" {
		arg = "password"
	}
	name, ok := secretNames[arg]
	if !ok {
		return "", fmt.Errorf("unknown secret %q, want password or session_token", arg)
	}
	return name, nil
}

// vaultDir picks --dir, then vault.dir, then the user config directory.
func vaultDir(ctx *cli.Context) (string, error) {
	if d := ctx.String("dir"); d != "" {
		return d, nil
	}
	if cfg, err := readConfig(ctx); err == nil && cfg.Vault.Dir != "" {
		return cfg.Vault.Dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "edupoll"), nil
}

func openVaultFor(ctx *cli.Context, action string) (secretStore, bool) {
	dir, err := vaultDir(ctx)
	if err != nil {
		common.PrintRuntimeErr(ctx, "credentials", action+"_dir", err)
		return nil, false
	}
	v, err := openVault(dir)
	if err != nil {
		common.PrintRuntimeErr(ctx, "credentials", action+"_open", err)
		return nil, false
	}
	return v, true
}

func credentialsSet(ctx *cli.Context) error {
	name, err := secretName(ctx)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	fmt.Fprintf(out, "Enter %s (read from standard input): ", ctx.Args().First())
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		common.PrintRuntimeErr(ctx, "credentials", "read", err)
		return nil
	}
	fmt.Fprintln(out)
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("empty value"))
	}
	v, ok := openVaultFor(ctx, "set")
	if !ok {
		return nil
	}
	if err := v.Set(name, value); err != nil {
		common.PrintRuntimeErr(ctx, "credentials", "set", err)
		return nil
	}
	fmt.Fprintf(out, "Stored %s in %s\n", name, v.Path())
	return nil
}

func credentialsDelete(ctx *cli.Context) error {
	name, err := secretName(ctx)
	if err != nil {
		return common.PrintErrWithCmdHelp(ctx, err)
	}
	if !confirm(command("delete "+name), ctx.Bool("yes")) {
		return nil
	}
	v, ok := openVaultFor(ctx, "delete")
	if !ok {
		return nil
	}
	if err := v.Delete(name); err != nil {
		if errors.Is(err, credman.ErrNotFound) {
			fmt.Fprintf(out, "%s is not stored\n", name)
			return nil
		}
		common.PrintRuntimeErr(ctx, "credentials", "delete", err)
		return nil
	}
	fmt.Fprintf(out, "Deleted %s\n", name)
	return nil
}

func credentialsList(ctx *cli.Context) error {
	v, ok := openVaultFor(ctx, "list")
	if !ok {
		return nil
	}
	names := v.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "Vault is empty")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}

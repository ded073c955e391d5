package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/pkg/envelope"
)

var errNoEnvelope = errors.New("no envelope given")

// decode accepts either a bare eqap value or a whole captured form body
// (eqap=...&eqacs=...), in which case the checksum is verified too.
func decode(ctx *cli.Context) error {
	arg := strings.TrimSpace(ctx.Args().First())
	if arg == "" {
		return common.PrintErrWithCmdHelp(ctx, errNoEnvelope)
	}
	var (
		qs  string
		err error
	)
	if strings.Contains(arg, envelope.FieldPayload+"=") {
		form, perr := url.ParseQuery(arg)
		if perr != nil {
			common.PrintRuntimeErr(ctx, "decode", "parse_form", perr)
			return nil
		}
		qs, err = envelope.Unwrap(form)
	} else {
		qs, err = envelope.Decode(arg)
	}
	if err != nil {
		common.PrintRuntimeErr(ctx, "decode", "decode", err)
		return nil
	}
	fmt.Fprintln(out, qs)
	fields, err := url.ParseQuery(qs)
	if err != nil || len(fields) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s = %s\n", k, strings.Join(fields[k], ","))
	}
	return nil
}

func encode(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no fields given"))
	}
	fields := make(map[string]string, ctx.NArg())
	for _, a := range ctx.Args() {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("invalid field %q, want key=value", a))
		}
		fields[k] = v
	}
	form, err := envelope.Wrap(fields, ctx.Bool("compress"), 1)
	if err != nil {
		common.PrintRuntimeErr(ctx, "encode", "wrap", err)
		return nil
	}
	fmt.Fprintf(out, "%s=%s\n", envelope.FieldPayload, form.Get(envelope.FieldPayload))
	fmt.Fprintf(out, "%s=%s\n", envelope.FieldChecksum, form.Get(envelope.FieldChecksum))
	fmt.Fprintf(out, "%s=%s\n", envelope.FieldCompressed, form.Get(envelope.FieldCompressed))
	return nil
}

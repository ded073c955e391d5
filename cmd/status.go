package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/urfave/cli"

	"github.com/edupoll/edupoll/cmd/common"
	"github.com/edupoll/edupoll/internal/server"
)

const statusTimeout = 30 * time.Second

// bearerClient adds the RPC secret to every request of the HTTP channel.
type bearerClient struct {
	secret string
	client *http.Client
}

func (b bearerClient) Do(req *http.Request) (*http.Response, error) {
	if b.secret != "" {
		req.Header.Set("Authorization", "Bearer "+b.secret)
	}
	return b.client.Do(req)
}

func dialRPC(addr, secret string) *jrpc2.Client {
	ch := jhttp.NewChannel("http://"+addr+"/jsonrpc", &jhttp.ChannelOptions{
		Client: bearerClient{secret: secret, client: &http.Client{Timeout: statusTimeout}},
	})
	return jrpc2.NewClient(ch, nil)
}

func status(ctx *cli.Context) error {
	addr, secret := ctx.String("addr"), ctx.String("secret")
	if addr == "" || secret == "" {
		cfg, err := readConfig(ctx)
		if err != nil {
			common.PrintRuntimeErr(ctx, "status", "load_config", err)
			return err
		}
		if addr == "" {
			addr = cfg.RPC.Listen
		}
		if secret == "" {
			secret = cfg.RPC.Secret
		}
	}
	if addr == "" {
		return common.PrintErrWithCmdHelp(ctx, fmt.Errorf("rpc endpoint disabled, pass --addr"))
	}

	rctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	c := dialRPC(addr, secret)
	defer c.Close()

	if ctx.Bool("now") {
		if _, err := c.Call(rctx, "sync.now", nil); err != nil {
			common.PrintRuntimeErr(ctx, "status", "sync.now", err)
			return err
		}
	}
	var st server.StatusResult
	if err := c.CallResult(rctx, "sync.status", nil, &st); err != nil {
		common.PrintRuntimeErr(ctx, "status", "sync.status", err)
		return err
	}
	printStatus(out, &st, time.Now())
	return nil
}

func printStatus(w io.Writer, st *server.StatusResult, now time.Time) {
	switch {
	case st.ConfigError != "":
		fmt.Fprintf(w, "Daemon idle: %s\n", st.ConfigError)
		return
	case !st.Ready:
		fmt.Fprintln(w, "Daemon starting")
		return
	}
	state := "idle"
	if st.Sync.Running {
		state = "syncing"
	}
	fmt.Fprintf(w, "Daemon %s, %d cycles\n", state, st.Sync.Cycles)
	if !st.Sync.LastOK.IsZero() {
		fmt.Fprintf(w, "  last success: %s\n", st.Sync.LastOK.Local().Format(time.DateTime))
	}
	if !st.NextRun.IsZero() {
		fmt.Fprintf(w, "  next run:     %s\n", st.NextRun.Local().Format(time.DateTime))
	}
	if b := st.Sync.Backoff; b.Active(now) {
		fmt.Fprintf(w, "  captcha backoff, %s left\n", b.Remaining(now).Round(time.Minute))
	}
	if st.Sync.LastResult != nil {
		fmt.Fprintln(w)
		printResult(w, st.Sync.LastResult)
	}
}

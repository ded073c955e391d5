package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/edupoll/edupoll/internal/config"
	"github.com/edupoll/edupoll/internal/server"
	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/internal/syncer"
	"github.com/edupoll/edupoll/pkg/credman"
	"github.com/edupoll/edupoll/pkg/envelope"
	"github.com/edupoll/edupoll/pkg/portal"
)

// run executes the app with args and returns what it wrote to out.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldIn := out, in
	out, in = &buf, strings.NewReader(stdin)
	defer func() { out, in = oldOut, oldIn }()
	err := Execute(append([]string{"edupoll"}, args...), BuildArgs{Version: "1.0.0", BuildType: "test"})
	return buf.String(), err
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	got, err := run(t, "", "encode", "--compress", "username=jane", "akcia=login")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var eqap string
	for _, line := range strings.Split(got, "\n") {
		if v, ok := strings.CutPrefix(line, envelope.FieldPayload+"="); ok {
			eqap = v
		}
	}
	if !strings.HasPrefix(eqap, envelope.CompressionMarker) {
		t.Fatalf("eqap = %q, want compressed envelope", eqap)
	}

	got, err = run(t, "", "decode", eqap)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(got, "akcia=login&username=jane") {
		t.Errorf("decode output = %q", got)
	}
	if !strings.Contains(got, "username = jane") {
		t.Errorf("decode did not list fields: %q", got)
	}
}

func TestDecodeWholeForm(t *testing.T) {
	form, err := envelope.Wrap(map[string]string{"gsh": "00000000"}, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	got, err := run(t, "", "decode", form.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(got, "gsh=00000000") {
		t.Errorf("decode output = %q", got)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	form, err := envelope.Wrap(map[string]string{"a": "1"}, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	form.Set(envelope.FieldChecksum, strings.Repeat("0", 40))
	got, err := run(t, "", "decode", form.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(got, "a=1") {
		t.Errorf("mismatched envelope decoded: %q", got)
	}
}

func memVault(t *testing.T) *credman.Vault {
	t.Helper()
	v, err := credman.Open(afero.NewMemMapFs(), "/vault", bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	old := openVault
	openVault = func(string) (secretStore, error) { return v, nil }
	t.Cleanup(func() { openVault = old })
	return v
}

func TestCredentialsSetAndDelete(t *testing.T) {
	v := memVault(t)

	got, err := run(t, "hunter2\n", "credentials", "set", "--dir", "/vault", "password")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if strings.Contains(got, "hunter2") {
		t.Error("secret echoed to output")
	}
	if pw, err := v.Get(credman.SecretPassword); err != nil || pw != "hunter2" {
		t.Fatalf("Get = %q, %v", pw, err)
	}

	if _, err := run(t, "no\n", "credentials", "delete", "--dir", "/vault", "password"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Get(credman.SecretPassword); err != nil {
		t.Fatalf("declined delete removed the secret: %v", err)
	}

	if _, err := run(t, "", "credentials", "delete", "--dir", "/vault", "--yes", "password"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := v.Get(credman.SecretPassword); !errors.Is(err, credman.ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestCredentialsSetSessionToken(t *testing.T) {
	v := memVault(t)
	if _, err := run(t, "abcdef12\n", "credentials", "set", "--dir", "/vault", "session_token"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := run(t, "", "credentials", "list", "--dir", "/vault")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(got) != credman.SecretSessionToken {
		t.Errorf("list = %q", got)
	}
	if tok, _ := v.Get(credman.SecretSessionToken); tok != "abcdef12" {
		t.Errorf("token = %q", tok)
	}
}

func TestSecretNameRejectsUnknown(t *testing.T) {
	v := memVault(t)
	if _, err := run(t, "x\n", "credentials", "set", "--dir", "/vault", "apikey"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if names := v.Names(); len(names) != 0 {
		t.Errorf("unknown secret stored: %v", names)
	}
}

func TestSyncConfigError(t *testing.T) {
	old := loadConfig
	loadConfig = func(string) (*config.Config, error) { return nil, errors.New("config: bad yaml") }
	defer func() { loadConfig = old }()

	_, err := run(t, "", "sync")
	if err == nil || !strings.Contains(err.Error(), "bad yaml") {
		t.Fatalf("sync error = %v", err)
	}
}

type statusBackend struct{ status server.StatusResult }

func (b statusBackend) Status() server.StatusResult { return b.status }

func (b statusBackend) SyncNow(context.Context) (*syncer.Result, error) {
	return nil, server.ErrNotReady
}

func (b statusBackend) States(context.Context, string) ([]state.Entry, error) { return nil, nil }

func TestStatusQueriesDaemon(t *testing.T) {
	now := time.Now()
	b := statusBackend{status: server.StatusResult{
		Ready:   true,
		NextRun: now.Add(10 * time.Minute),
		Sync: syncer.Status{
			Cycles: 3,
			LastOK: now.Add(-5 * time.Minute),
			LastResult: &syncer.Result{
				ID:       "0f1e2d3c-aaaa",
				Started:  now.Add(-5 * time.Minute),
				Finished: now.Add(-5*time.Minute + 2*time.Second),
				Outcome:  syncer.OutcomeOK,
				Today: &syncer.Day{
					Date:    "2026-10-14",
					Lessons: []portal.TimetableItem{{Start: "08:00", End: "08:45", Subject: "Math", Room: "A1"}},
				},
			},
		},
	}}
	s := server.New(server.Config{Secret: "s3cret"}, b, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	got, err := run(t, "", "status", "--addr", addr, "--secret", "s3cret")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"3 cycles", "Cycle 0f1e2d3c: ok", "Math", "next run"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}

	if _, err := run(t, "", "status", "--addr", addr, "--secret", "wrong"); err == nil {
		t.Error("status with wrong secret succeeded")
	}
}

func TestPrintStatusIdle(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, &server.StatusResult{ConfigError: "portal.username: missing username"}, time.Now())
	if !strings.Contains(buf.String(), "idle: portal.username") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintResultCaptchaAndHoliday(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	printResult(&buf, &syncer.Result{
		ID:       "abc",
		Started:  now,
		Finished: now,
		Outcome:  syncer.OutcomeCaptcha,
		Backoff:  &syncer.BackoffState{ActiveUntil: now.Add(time.Hour), CaptchaURL: "https://school.edupage.org/captcha"},
		Tomorrow: &syncer.Day{Date: "2026-10-15", Holiday: true, HolidayName: "Autumn break"},
	})
	got := buf.String()
	for _, want := range []string{"captcha", "solve it at https://school.edupage.org/captcha", "holiday: Autumn break"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	if _, err := run(t, "", "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
}

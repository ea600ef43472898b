package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	solana "github.com/gagliardetto/solana-go"

	"github.com/dicoderin/bitbot/internal/api/apitest"
	"github.com/dicoderin/bitbot/internal/events"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "bitbot dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelpListsCommands(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"run", "proxies", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestPromptCount(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "plain", input: "3\n", want: 3},
		{name: "retries until valid", input: "abc\n0\n4\n", want: 4},
		{name: "clamped", input: "25\n", want: 20},
		{name: "no trailing newline", input: "7", want: 7},
		{name: "eof", input: "", wantErr: true},
		{name: "garbage then eof", input: "x", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := promptCount(bufio.NewReader(strings.NewReader(tc.input)), &out, 20)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, got, err)
			}
		})
	}
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceAgainstFake(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	ep := srv.Endpoints()
	dir := t.TempDir()

	keys := filepath.Join(dir, "pk.txt")
	messages := filepath.Join(dir, "pesan.txt")
	eventsPath := filepath.Join(dir, "events.jsonl")
	writeLines(t, keys, solana.NewWallet().PrivateKey.String(), "garbage", solana.NewWallet().PrivateKey.String())
	writeLines(t, messages, "gm", "what is the price of SOL?")

	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`app:
  log_level: debug
api:
  key: %s
  verify_url: %s
  sign_in_url: %s
  refresh_url: %s
  exchange_url: %s
  stats_url: %s
run:
  retry_delay_ms: 0
  forbidden_cooldown_ms: 0
  pacing_min_ms: 0
  pacing_max_ms: 0
  account_pause_ms: 0
inputs:
  keys_file: %s
  messages_file: %s
  proxies_file: %s
`, apitest.APIKey, ep.Verify, ep.SignIn, ep.Refresh, ep.Exchange, ep.Stats,
		keys, messages, filepath.Join(dir, "missing-proxies.txt"))
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"run", "--config", cfgPath, "--once", "--count", "2",
		"--pretty=false", "--events-file", eventsPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run failed: %v\n%s", err, buf.String())
	}

	if got := srv.CallCount("exchange"); got != 4 {
		t.Fatalf("expected 4 exchanges, got %d", got)
	}
	if !strings.Contains(buf.String(), "run complete") {
		t.Fatalf("expected a run summary in the log, got: %s", buf.String())
	}

	data, err := os.ReadFile(eventsPath)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var finished *events.Event
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var ev events.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		if ev.Kind == events.RunFinished {
			finished = &ev
		}
	}
	if finished == nil || finished.Success != 2 || finished.Failed != 1 || finished.Count != 4 {
		t.Fatalf("unexpected run.finished: %+v", finished)
	}
}

func TestRunFailsWithoutKeys(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf("inputs:\n  keys_file: %s\n", filepath.Join(dir, "nope.txt"))
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"run", "--config", cfgPath, "--once", "--non-interactive", "--pretty=false"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected missing key file to fail the run")
	}
}

func TestProxiesCmdReportsStates(t *testing.T) {
	dir := t.TempDir()
	proxies := filepath.Join(dir, "proxy.txt")
	writeLines(t, proxies, "127.0.0.1:1")
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf("proxy:\n  probe_timeout_ms: 500\ninputs:\n  proxies_file: %s\n", proxies)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"proxies", "--config", cfgPath})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("proxies command failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "127.0.0.1:1") || !strings.Contains(out, "dead") || !strings.Contains(out, "0/1 active") {
		t.Fatalf("unexpected output: %s", out)
	}
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/0xReLogic/logprobe/internal/config"
	"github.com/0xReLogic/logprobe/internal/delivery"
	"github.com/0xReLogic/logprobe/testutil"
)

func startSink(t *testing.T) (*testutil.Sink, string) {
	t.Helper()
	sink, err := testutil.NewSink("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	sink.Start()
	t.Cleanup(func() { sink.Close() })
	return sink, strconv.Itoa(sink.Addr().(*net.TCPAddr).Port)
}

func fastConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logprobe.yaml")
	body := "automated:\n  interval: 0s\nabuse:\n  interval: 0s\nlogging:\n  level: error\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String()
}

func TestManual(t *testing.T) {
	sink, port := startSink(t)
	code, out := runCLI(t, "-config", fastConfig(t, ""), "127.0.0.1", port, "--manual", "warning", "disk almost full")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !strings.Contains(out, "Log message successfully sent: WARNING; disk almost full") {
		t.Fatalf("output = %q", out)
	}
	if !sink.WaitFor(1, 2*time.Second) {
		t.Fatal("nothing received")
	}
	if got := string(sink.Messages()[0].Raw); got != "WARNING;disk almost full" {
		t.Fatalf("received %q", got)
	}
}

func TestAutomated(t *testing.T) {
	sink, port := startSink(t)
	code, out := runCLI(t, "-config", fastConfig(t, ""), "127.0.0.1", port, "--automated")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !sink.WaitFor(15, 5*time.Second) {
		t.Fatalf("received %d messages", len(sink.Messages()))
	}
	if !strings.Contains(out, "Sent 15 of 15 messages") {
		t.Fatalf("output = %q", out)
	}
}

func TestAbuseCountArgument(t *testing.T) {
	sink, port := startSink(t)
	code, out := runCLI(t, "-config", fastConfig(t, ""), "127.0.0.1", port, "--abuse", "12")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !sink.WaitFor(12, 5*time.Second) {
		t.Fatalf("received %d messages", len(sink.Messages()))
	}
	if n := strings.Count(out, "Log message successfully sent: ERROR; This is an abuse testing"); n != 12 {
		t.Fatalf("%d success lines in %q", n, out)
	}
}

func TestAbuseDefaultsToConfiguredCount(t *testing.T) {
	sink, port := startSink(t)
	code, out := runCLI(t, "-config", fastConfig(t, ""), "127.0.0.1", port, "--abuse")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !sink.WaitFor(delivery.DefaultAbuseCount, 10*time.Second) {
		t.Fatalf("received %d messages", len(sink.Messages()))
	}
}

func TestMalformedInvocationsDoNoIO(t *testing.T) {
	sink, port := startSink(t)
	cfg := fastConfig(t, "")
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"127.0.0.1"}, "Invalid arguments."},
		{[]string{"127.0.0.1", "http", "--automated"}, "Invalid port number"},
		{[]string{"127.0.0.1", "70000", "--automated"}, "Invalid port number"},
		{[]string{"127.0.0.1", port, "--manual", "LOUD", "hi"}, "Invalid log level or message."},
		{[]string{"127.0.0.1", port, "--manual", "INFO"}, "Invalid log level or message."},
		{[]string{"127.0.0.1", port, "--abuse", "-3"}, "Invalid message count"},
		{[]string{"127.0.0.1", port, "--abuse", "many"}, "Invalid message count"},
		{[]string{"127.0.0.1", port, "--shout"}, "Invalid command."},
	}
	for _, tc := range cases {
		code, out := runCLI(t, append([]string{"-config", cfg}, tc.args...)...)
		if code != exitUsage {
			t.Errorf("%v: exit = %d", tc.args, code)
		}
		if !strings.HasPrefix(out, tc.want) {
			t.Errorf("%v: output = %q, want prefix %q", tc.args, out, tc.want)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if n := sink.Connections(); n != 0 {
		t.Fatalf("malformed invocations opened %d connections", n)
	}
}

func TestEndpointFromConfig(t *testing.T) {
	sink, port := startSink(t)
	cfg := fastConfig(t, fmt.Sprintf("server:\n  host: 127.0.0.1\n  port: %s\n", port))

	code, out := runCLI(t, "-config", cfg, "--manual", "critical", "from config")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !sink.WaitFor(1, 2*time.Second) || string(sink.Messages()[0].Raw) != "CRITICAL;from config" {
		t.Fatalf("messages = %+v", sink.Messages())
	}
}

func TestEndpointFromRegistry(t *testing.T) {
	sink, port := startSink(t)
	dir := t.TempDir()
	reg := filepath.Join(dir, "registry.yaml")
	if err := os.WriteFile(reg, []byte("services:\n  ingest: 127.0.0.1:"+port+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fastConfig(t, "registry_file: "+reg+"\nserver:\n  service: ingest\n")

	code, out := runCLI(t, "-config", cfg, "--abuse", "3")
	if code != exitOK {
		t.Fatalf("exit = %d, output %q", code, out)
	}
	if !sink.WaitFor(3, 5*time.Second) {
		t.Fatalf("received %d messages", len(sink.Messages()))
	}
}

func TestUnreachableServerStillExitsCleanly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	code, out := runCLI(t, "-config", fastConfig(t, ""), "127.0.0.1", port, "--abuse", "2")
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	if n := strings.Count(out, "Error occurred while sending message to 127.0.0.1:"); n != 2 {
		t.Fatalf("%d failure lines in %q", n, out)
	}
}

func TestAbusePacer(t *testing.T) {
	if _, ok := abusePacer(config.AbuseConfig{Interval: time.Millisecond}).(delivery.FixedDelay); !ok {
		t.Fatal("expected plain fixed delay without max_rate")
	}

	p := abusePacer(config.AbuseConfig{MaxRate: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Pause(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	// one token up front, then 20/s
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("rate cap not applied, 3 pauses took %v", elapsed)
	}
}

func TestModeWordFirstUsesConfiguredEndpoint(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--abuse", "0"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr %q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Sent 0 of 0 messages to localhost:30000") {
		t.Fatalf("output = %q", stdout.String())
	}
}

func TestSplitMode(t *testing.T) {
	cases := []struct {
		args     []string
		flagArgs []string
		modeArgs []string
	}{
		{[]string{"-config", "x.yaml", "--manual", "INFO", "--abuse"}, []string{"-config", "x.yaml"}, []string{"--manual", "INFO", "--abuse"}},
		{[]string{"-timeout", "1s", "host", "1", "--automated"}, []string{"-timeout", "1s", "host", "1"}, []string{"--automated"}},
		{[]string{"host", "1", "--shout"}, []string{"host", "1", "--shout"}, nil},
	}
	for _, tc := range cases {
		f, m := splitMode(tc.args)
		if fmt.Sprint(f) != fmt.Sprint(tc.flagArgs) || fmt.Sprint(m) != fmt.Sprint(tc.modeArgs) {
			t.Errorf("splitMode(%q) = %q, %q", tc.args, f, m)
		}
	}
}

func TestTimeoutFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"-h"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("exit = %d", code)
	}
	if help := stderr.String(); !strings.Contains(help, "(default 5s)") || strings.Contains(help, "-1ns") {
		t.Fatalf("help = %q", help)
	}

	code, out := runCLI(t, "-config", fastConfig(t, ""), "-timeout", "-1s", "127.0.0.1", "1", "--automated")
	if code != exitUsage || !strings.HasPrefix(out, "Invalid timeout") {
		t.Fatalf("exit = %d, output %q", code, out)
	}
}

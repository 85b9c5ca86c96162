package main

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/classtap/pkg/capture"
	"github.com/odvcencio/classtap/pkg/config"
	"github.com/odvcencio/classtap/pkg/store"
)

const replayTrace = `
methods:
  - id: 1
    name: defineClass1
    signature: (Ljava/lang/String;[BII)Ljava/lang/Class;
    class: Ljava/lang/ClassLoader;
  - id: 2
    name: run
    signature: ()V
    class: Lcom/example/App;
    lines: [{start: 0, line: 10}, {start: 4, line: 11}, {start: 9, line: 12}]
    bytecode: 2a2b0304b6000257b1b1
loaders:
  - {id: 100, hash: 7, class: Lcom/example/Loader;}
events:
  - name: com/example/Gen1
    loader: 100
    payload: yv66vgAAADQ=
    stack:
      - {method: 1, native: true}
      - {method: 2, location: 4}
  - loader: 100
    payload: AQID
    stack:
      - {method: 2, location: 4}
  - name: java/lang/Object
    payload: AA==
  - name: com/example/Broken
    loader: 100
    payload: AA==
    stack_error: thread not alive
`

func writeCmdFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

// runReplayCmd replays body into <dir>/out and returns stdout and stderr.
func runReplayCmd(t *testing.T, dir, body string, extra ...string) (string, string, error) {
	t.Helper()
	tracePath := filepath.Join(dir, "trace.yaml")
	writeCmdFile(t, tracePath, []byte(body))

	var stdout, stderr bytes.Buffer
	cmd := newReplayCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	args := append([]string{tracePath, "--out", filepath.Join(dir, "out"), "--log-level", "error"}, extra...)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestSigningKey(t *testing.T, dir string) (privPath, pubPath string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	privPath = filepath.Join(dir, "id_ed25519")
	pubPath = privPath + ".pub"
	writeCmdFile(t, privPath, pem.EncodeToMemory(block))
	writeCmdFile(t, pubPath, ssh.MarshalAuthorizedKey(sshPub))
	return privPath, pubPath
}

func TestReplayCmdCapturesTrace(t *testing.T) {
	dir := t.TempDir()
	_, stderr, err := runReplayCmd(t, dir, replayTrace)
	if err != nil {
		t.Fatalf("replay Execute: %v\nstderr:\n%s", err, stderr)
	}

	out := filepath.Join(dir, "out")
	for _, p := range []string{
		filepath.Join(out, "7", "com", "example", "Gen1.class"),
		filepath.Join(out, "7", "com", "example", "Gen1.info"),
		filepath.Join(out, "7", "AnonGeneratedClass_1.class"),
		filepath.Join(out, "7", "com", "example", "Broken.class"),
		filepath.Join(out, reportName),
		filepath.Join(out, config.EffectiveName),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected %s: %v", p, err)
		}
	}
	if _, err := os.Stat(filepath.Join(out, "0", "java")); !os.IsNotExist(err) {
		t.Fatalf("ignored class was captured: %v", err)
	}

	for _, want := range []string{
		"Classes defined: 4\n",
		"Classes defined (ignored): 1\n",
		"Classes defined by unknown code (stack trace error or empty): 1\n",
		"Classes defined by defineClass(): 1\n",
		"Classes in other methods: 1\n",
		"invokevirtual = 1",
		"Uncounted classes: 0\n",
	} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("report missing %q:\n%s", want, stderr)
		}
	}

	report, err := os.ReadFile(filepath.Join(out, reportName))
	if err != nil {
		t.Fatalf("ReadFile(report): %v", err)
	}
	if !strings.HasPrefix(string(report), "Session: ") {
		t.Fatalf("report = %q, want session header", report)
	}

	info, err := os.ReadFile(filepath.Join(out, "7", "com", "example", "Gen1.info"))
	if err != nil {
		t.Fatalf("ReadFile(info): %v", err)
	}
	if !strings.Contains(string(info), "(candidate line number: 11)") {
		t.Fatalf("info = %q, want line attribution for frame 1", info)
	}
}

func TestReplayCmdIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if _, stderr, err := runReplayCmd(t, dir, replayTrace); err != nil {
		t.Fatalf("first replay: %v\n%s", err, stderr)
	}
	if _, stderr, err := runReplayCmd(t, dir, replayTrace); err != nil {
		t.Fatalf("second replay: %v\n%s", err, stderr)
	}

	info, err := os.ReadFile(filepath.Join(dir, "out", "7", "com", "example", "Gen1.info"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(info), "== class com/example/Gen1"); n != 2 {
		t.Fatalf("context records = %d, want 2", n)
	}
	if !strings.Contains(string(info), "[write: already-identical") {
		t.Fatalf("second record should report an identical file:\n%s", info)
	}
	// Anonymous classes restart numbering per session and match the
	// first session's bytes.
	if _, err := os.Stat(filepath.Join(dir, "out", "7", "AnonGeneratedClass_2.class")); !os.IsNotExist(err) {
		t.Fatalf("unexpected second anonymous class: %v", err)
	}
}

func TestReplayCmdStdoutSink(t *testing.T) {
	dir := t.TempDir()
	stdout, stderr, err := runReplayCmd(t, dir, replayTrace, "--sink", "stdout", "--concurrency", "3")
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}
	if !strings.Contains(stdout, "== class com/example/Gen1") || !strings.Contains(stdout, "== anonymous class AnonGeneratedClass_1") {
		t.Fatalf("stdout = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "7", "com", "example", "Gen1.info")); !os.IsNotExist(err) {
		t.Fatalf("stdout sink wrote an .info file: %v", err)
	}
}

func TestReplayCmdConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "classtap.toml")
	writeCmdFile(t, cfgPath, []byte("max_frames = 3\nignore_prefixes = [\"com/example/Broken\"]\n"))

	_, stderr, err := runReplayCmd(t, dir, replayTrace, "--config", cfgPath, "--max-frames", "5")
	if err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}

	eff, err := config.Load(filepath.Join(dir, "out", config.EffectiveName))
	if err != nil {
		t.Fatalf("Load(effective): %v", err)
	}
	if eff.MaxFrames != 5 {
		t.Fatalf("max_frames = %d, want flag value 5", eff.MaxFrames)
	}
	if !strings.Contains(stderr, "Classes defined (ignored): 1\n") {
		t.Fatalf("report = %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "0", "java", "lang", "Object.class")); err != nil {
		t.Fatalf("java/lang/Object should be captured once the defaults are overridden: %v", err)
	}
}

func TestReplayCmdRejectsInvalidConfig(t *testing.T) {
	_, _, err := runReplayCmd(t, t.TempDir(), replayTrace, "--sink", "kafka")
	if err == nil || !strings.Contains(err.Error(), "sink") {
		t.Fatalf("replay err = %v, want sink validation error", err)
	}
}

func TestReplayCmdRedefinitionIsFatal(t *testing.T) {
	dir := t.TempDir()
	body := replayTrace + `  - name: com/example/Gen1
    loader: 100
    payload: AA==
    redefinition: true
`
	_, stderr, err := runReplayCmd(t, dir, body)
	if !errors.Is(err, capture.ErrRedefinition) {
		t.Fatalf("replay err = %v, want ErrRedefinition", err)
	}
	if exitCode(err) != 2 {
		t.Fatalf("exitCode = %d, want 2", exitCode(err))
	}
	if !strings.Contains(stderr, "Classes defined: 4\n") {
		t.Fatalf("report not printed after fatal error:\n%s", stderr)
	}
}

func TestReplayCmdLockedRoot(t *testing.T) {
	dir := t.TempDir()
	release, err := store.LockRoot(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("LockRoot: %v", err)
	}
	defer release()

	_, _, err = runReplayCmd(t, dir, replayTrace)
	if !errors.Is(err, store.ErrLocked) {
		t.Fatalf("replay err = %v, want ErrLocked", err)
	}

	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--no-lock"); err != nil {
		t.Fatalf("replay --no-lock: %v\n%s", err, stderr)
	}
}

func TestReplayCmdMetricsFile(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "classtap.prom")
	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--metrics-file", metrics); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("ReadFile(metrics): %v", err)
	}
	for _, want := range []string{
		"classtap_class_events_total 4",
		"classtap_class_events_ignored_total 1",
		`classtap_callsite_opcodes_total{opcode="invokevirtual"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestReplayCmdSignsReport(t *testing.T) {
	dir := t.TempDir()
	priv, pub := writeTestSigningKey(t, dir)
	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--sign-key", priv); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}

	sig, err := os.ReadFile(filepath.Join(dir, "out", reportName+signatureExt))
	if err != nil {
		t.Fatalf("ReadFile(sig): %v", err)
	}
	if !strings.HasPrefix(string(sig), reportSignaturePrefix+":ssh-ed25519:") {
		t.Fatalf("signature = %q", sig)
	}

	signedBy, err := verifyReportFile(filepath.Join(dir, "out"), pub)
	if err != nil {
		t.Fatalf("verifyReportFile: %v", err)
	}
	if !strings.HasPrefix(signedBy, "report signed by SHA256:") {
		t.Fatalf("signedBy = %q", signedBy)
	}
}

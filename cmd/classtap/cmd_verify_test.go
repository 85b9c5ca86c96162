package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerifyCmdVerifiesCapturedClasses(t *testing.T) {
	dir := t.TempDir()
	priv, pub := writeTestSigningKey(t, dir)
	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--sign-key", priv); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}

	var output bytes.Buffer
	verifyCmd := newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out"), "--key", pub})
	if err := verifyCmd.Execute(); err != nil {
		t.Fatalf("verify Execute: %v\noutput:\n%s", err, output.String())
	}
	if !strings.Contains(output.String(), "ok: verified 3 class file(s), 3 with context records, report signed by SHA256:") {
		t.Fatalf("verify output = %q", output.String())
	}
}

func TestVerifyCmdUnsignedReport(t *testing.T) {
	dir := t.TempDir()
	if _, stderr, err := runReplayCmd(t, dir, replayTrace); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}

	var output bytes.Buffer
	verifyCmd := newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out")})
	if err := verifyCmd.Execute(); err != nil {
		t.Fatalf("verify Execute: %v\noutput:\n%s", err, output.String())
	}
	if !strings.Contains(output.String(), "report unsigned") {
		t.Fatalf("verify output = %q, want %q", output.String(), "report unsigned")
	}

	_, pub := writeTestSigningKey(t, dir)
	verifyCmd = newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out"), "--key", pub})
	if err := verifyCmd.Execute(); err == nil {
		t.Fatal("verify with a pinned key should require a signature")
	}
}

func TestVerifyCmdFailsOnTamperedClass(t *testing.T) {
	dir := t.TempDir()
	if _, stderr, err := runReplayCmd(t, dir, replayTrace); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}
	classPath := filepath.Join(dir, "out", "7", "com", "example", "Gen1.class")
	data, err := os.ReadFile(classPath)
	if err != nil {
		t.Fatalf("ReadFile(class): %v", err)
	}
	data[len(data)-1] ^= 0xff
	writeCmdFile(t, classPath, data)

	var output bytes.Buffer
	verifyCmd := newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out")})
	err = verifyCmd.Execute()
	if err == nil {
		t.Fatal("verify command should fail for a modified class file")
	}
	if !strings.Contains(err.Error(), "verify class com/example/Gen1") {
		t.Fatalf("verify error = %q, want to contain %q", err.Error(), "verify class com/example/Gen1")
	}
}

func TestVerifyCmdFailsOnTamperedReport(t *testing.T) {
	dir := t.TempDir()
	priv, _ := writeTestSigningKey(t, dir)
	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--sign-key", priv); err != nil {
		t.Fatalf("replay: %v\n%s", err, stderr)
	}
	reportPath := filepath.Join(dir, "out", reportName)
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatal(err)
	}
	writeCmdFile(t, reportPath, bytes.Replace(data, []byte("Classes defined: 4"), []byte("Classes defined: 5"), 1))

	var output bytes.Buffer
	verifyCmd := newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out")})
	err = verifyCmd.Execute()
	if err == nil {
		t.Fatal("verify command should fail for a modified report")
	}
	if !strings.Contains(err.Error(), "verify report") {
		t.Fatalf("verify error = %q, want to contain %q", err.Error(), "verify report")
	}
}

func TestVerifyReportSignatureRejectsGarbage(t *testing.T) {
	for _, armored := range []string{"", "sshsig-v1:a:b", "other:ssh-ed25519:AAAA:AAAA", "sshsig-v1:ssh-ed25519:!!:AAAA"} {
		if _, err := verifyReportSignature([]byte("payload"), armored); err == nil {
			t.Fatalf("verifyReportSignature(%q) succeeded", armored)
		}
	}
}

func TestVerifyCmdSkipsConflictRecords(t *testing.T) {
	dir := t.TempDir()
	// The first run leaves class files without context records.
	if _, stderr, err := runReplayCmd(t, dir, replayTrace, "--sink", "stdout"); err != nil {
		t.Fatalf("stdout replay: %v\n%s", err, stderr)
	}
	changed := strings.Replace(replayTrace, "payload: yv66vgAAADQ=", "payload: AAAA", 1)
	if _, stderr, err := runReplayCmd(t, dir, changed); err != nil {
		t.Fatalf("conflicting replay: %v\n%s", err, stderr)
	}
	if _, stderr, err := runReplayCmd(t, dir, replayTrace); err != nil {
		t.Fatalf("identical replay: %v\n%s", err, stderr)
	}

	var output bytes.Buffer
	verifyCmd := newVerifyCmd()
	verifyCmd.SetOut(&output)
	verifyCmd.SetErr(&output)
	verifyCmd.SetArgs([]string{filepath.Join(dir, "out")})
	if err := verifyCmd.Execute(); err != nil {
		t.Fatalf("verify Execute: %v\noutput:\n%s", err, output.String())
	}
	if !strings.Contains(output.String(), "ok: verified 3 class file(s), 3 with context records") {
		t.Fatalf("verify output = %q", output.String())
	}
}

func TestRecordedDigestUsesStoredOutcome(t *testing.T) {
	dir := t.TempDir()
	info := filepath.Join(dir, "C.info")
	writeCmdFile(t, info, []byte(
		"== class p/C (3 bytes, blake2b incoming) session a\n"+
			"[write: conflict out/7/p/C.class, size 8 on disk vs 3]\n"+
			"== class p/C (8 bytes, blake2b ondisk) session b\n"+
			"[write: already-identical out/7/p/C.class]\n"))
	got, err := recordedDigest(info)
	if err != nil {
		t.Fatalf("recordedDigest: %v", err)
	}
	if got != "ondisk" {
		t.Fatalf("recordedDigest = %q, want %q", got, "ondisk")
	}

	writeCmdFile(t, info, []byte(
		"== class p/C (3 bytes, blake2b incoming) session a\n"+
			"[write: conflict out/7/p/C.class, first different byte @ 0]\n"))
	if _, err := recordedDigest(info); !errors.Is(err, errNoStoredRecord) {
		t.Fatalf("recordedDigest err = %v, want errNoStoredRecord", err)
	}
}

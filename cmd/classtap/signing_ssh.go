package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const reportSignaturePrefix = "sshsig-v1"

// reportSigner returns an armored signature over payload.
type reportSigner func(payload []byte) (string, error)

func newSSHReportSigner(keyPath string) (reportSigner, string, error) {
	resolvedPath, err := resolveSigningKeyPath(keyPath)
	if err != nil {
		return nil, "", err
	}

	raw, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", resolvedPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", resolvedPath, err)
	}

	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())

	sign := func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", reportSignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
	return sign, resolvedPath, nil
}

// verifyReportSignature checks an armored signature produced by a
// reportSigner and returns the signing key.
func verifyReportSignature(payload []byte, armored string) (ssh.PublicKey, error) {
	parts := strings.Split(strings.TrimSpace(armored), ":")
	if len(parts) != 4 || parts[0] != reportSignaturePrefix {
		return nil, fmt.Errorf("verify signature: unrecognized format")
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("verify signature: public key: %w", err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("verify signature: public key: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("verify signature: blob: %w", err)
	}
	if err := pub.Verify(payload, &ssh.Signature{Format: parts[1], Blob: blob}); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	return pub, nil
}

// loadAuthorizedKey reads the first key of an authorized_keys style file.
func loadAuthorizedKey(path string) (ssh.PublicKey, error) {
	expanded, err := expandUserPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", expanded, err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key %q: %w", expanded, err)
	}
	return pub, nil
}

func resolveSigningKeyPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return expandUserPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	candidates := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
	for _, candidate := range candidates {
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default SSH private key found in ~/.ssh (id_ed25519, id_ecdsa, id_rsa)")
}

func expandUserPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}

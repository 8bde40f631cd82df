// Package ratelimit implements the signed-policy rate limiter: a
// tamper-evident policy file gates a global bucket, per-provider buckets,
// and two fallback buckets, with counts persisted via Repo so limits
// survive restarts.
//
// Upstream deployments sign the policy file with SM2/SM3 (Chinese
// national cryptography); this implementation signs with Ed25519 over a
// SHA-256 digest of the obfuscated blob instead, both from the standard
// library, preserving the tamper-detection contract without a GM
// cryptography dependency (see DESIGN.md).
package ratelimit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Policy is the decoded rate-limit policy document.
type Policy struct {
	Enabled      bool   `json:"enabled"`
	GlobalLimit  int    `json:"global_limit"`
	GlobalPeriod string `json:"global_period"` // second | minute | hour | day
}

// policyObfuscationKey is the fixed XOR key protecting the policy blob at
// rest. It is not a secret boundary by itself — the signature is what
// detects tampering — it only keeps the file from being plaintext JSON.
var policyObfuscationKey = []byte("danmuhub-rate-limit-policy-v1")

const (
	policyFileName    = "rate_limit.bin"
	signatureFileName = "rate_limit.bin.sig"
	publicKeyFileName = "public_key.pem"
)

func xorWithKey(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ key[i%len(key)]
	}
	return out
}

// LoadPolicy reads and verifies the three policy files in dir. Any I/O
// error, missing file, or signature mismatch is reported as an error; the
// caller is expected to enter safe-block on any non-nil error.
func LoadPolicy(dir string) (*Policy, error) {
	blob, err := os.ReadFile(filepath.Join(dir, policyFileName))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: read policy blob: %w", err)
	}
	sigB64, err := os.ReadFile(filepath.Join(dir, signatureFileName))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: read signature: %w", err)
	}
	pemBytes, err := os.ReadFile(filepath.Join(dir, publicKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: read public key: %w", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil || len(block.Bytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ratelimit: invalid public key pem")
	}
	pubKey := ed25519.PublicKey(block.Bytes)

	sig, err := base64.StdEncoding.DecodeString(string(sigB64))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: decode signature: %w", err)
	}

	digest := sha256.Sum256(blob)
	if !ed25519.Verify(pubKey, digest[:], sig) {
		return nil, fmt.Errorf("ratelimit: signature verification failed")
	}

	plain := xorWithKey(blob, policyObfuscationKey)

	var p Policy
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, fmt.Errorf("ratelimit: parse policy json: %w", err)
	}
	return &p, nil
}

// WritePolicyFiles is a test/ops helper that produces a valid, signed
// policy directory from a Policy and an Ed25519 private key.
func WritePolicyFiles(dir string, p Policy, priv ed25519.PrivateKey) error {
	plain, err := json.Marshal(p)
	if err != nil {
		return err
	}
	blob := xorWithKey(plain, policyObfuscationKey)

	digest := sha256.Sum256(blob)
	sig := ed25519.Sign(priv, digest[:])
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	pubBytes := priv.Public().(ed25519.PublicKey)
	pemBlock := pem.EncodeToMemory(&pem.Block{Type: "ED25519 PUBLIC KEY", Bytes: pubBytes})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, policyFileName), blob, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, signatureFileName), []byte(sigB64), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, publicKeyFileName), pemBlock, 0o644)
}

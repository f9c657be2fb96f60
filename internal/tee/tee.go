// Package tee is a uniform interface over hardware-attested TEE signing and
// a deterministic mock for local testing (spec §4.1, component C1).
package tee

import "context"

// Provider is the capability set common to the hardware and mock variants.
// All methods are safe to call repeatedly. The hardware variant caches its
// measurement, public key and quote per-process after the first success;
// the mock derives its key and RTMR3 once but builds a fresh quote, with a
// new timestamp, on every call. Signing is never cached.
type Provider interface {
	// GetCodeMeasurement returns the RTMR3 code-integrity register, hex-encoded.
	GetCodeMeasurement(ctx context.Context) (string, error)
	// GetTeePublicKey returns the ed25519 public key of a keypair whose
	// private half never leaves the enclave, hex-encoded.
	GetTeePublicKey(ctx context.Context) (string, error)
	// GetAttestationQuote returns a hardware-signed blob whose report-data
	// field embeds the TEE public key, base64-encoded.
	GetAttestationQuote(ctx context.Context) (string, error)
	// SignWithTeeKey produces a base64 ed25519 detached signature over payload.
	SignWithTeeKey(ctx context.Context, payload []byte) (string, error)
	// Platform names which branch produced the quote ("mock", "tdx", "sev-snp").
	Platform() string
}

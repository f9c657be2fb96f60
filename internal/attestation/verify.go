// Package attestation validates a birth certificate end-to-end: quote →
// pubkey → signatures → RTMR3 (spec §4.3, component C3).
package attestation

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/proofofflip/proofofflip/internal/identity"
	"github.com/proofofflip/proofofflip/internal/wallet"
)

// Result is the outcome of Verify. The caller never makes its own allowlist
// decision — it only sees OK and a machine-parsable Reason (spec §4.3: "Never
// delegates allowlist decisions to the caller").
type Result struct {
	OK        bool
	Reason    string
	RTMR3     string
	TeePubkey string
	Platform  string
}

func fail(reason string) (*Result, error) {
	return &Result{OK: false, Reason: reason}, nil
}

// Verifier wraps the optional external parser; Verify falls back to local
// TDX-offset parsing when Parser is nil or the external call fails.
type Verifier struct {
	Parser Parser
}

// NewVerifier builds a verifier. parser may be nil to always use local parsing.
func NewVerifier(parser Parser) *Verifier {
	return &Verifier{Parser: parser}
}

// Verify runs the ordered rule set from spec §4.3. Any failure short-circuits
// with the listed reason.
func (v *Verifier) Verify(ctx context.Context, cert *identity.BirthCertificate, allow *Allowlist) (*Result, error) {
	// Rule 1: mock detection.
	if reportData, rtmr3, ok := DecodeMock(cert.AttestationQuote); ok {
		if len(reportData) < 32 || hex.EncodeToString(reportData[:32]) != strings.ToLower(cert.TeePubkey) {
			return fail("mock quote report-data does not embed teePubkey")
		}
		if err := wallet.VerifyHexPubkey(cert.TeePubkey, cert.Message(), decodeB64OrNil(cert.TeeSignature)); err != nil {
			return fail("TEE signature invalid: " + err.Error())
		}
		if !allow.Check(rtmr3) {
			return fail("rtmr3 not in allowlist")
		}
		return &Result{OK: true, RTMR3: rtmr3, TeePubkey: cert.TeePubkey, Platform: "mock"}, nil
	}

	// Rule 2: quote parse, external parser with local fallback.
	parsed, err := v.parse(ctx, cert.AttestationQuote)
	if err != nil {
		return fail("quote parse failed: " + err.Error())
	}

	// Rule 3: pubkey extraction must match exactly (case-folded hex compare).
	if len(parsed.ReportData) < 32 {
		return fail("report-data shorter than 32 bytes")
	}
	extractedPubkey := hex.EncodeToString(parsed.ReportData[:32])
	if !strings.EqualFold(extractedPubkey, cert.TeePubkey) {
		return fail("quote report-data pubkey does not match teePubkey")
	}

	// Rule 4: TEE signature.
	sig := decodeB64OrNil(cert.TeeSignature)
	if err := wallet.VerifyHexPubkey(cert.TeePubkey, cert.Message(), sig); err != nil {
		return fail("TEE signature invalid: " + err.Error())
	}

	// Rule 5: RTMR3 consistency, when the quote exposes one.
	if parsed.HasRTMR3 && !strings.EqualFold(parsed.RTMR3, cert.RTMR3) {
		return fail("rtmr3 mismatch between quote and birth certificate")
	}

	// Rule 6: allowlist.
	if !allow.Check(cert.RTMR3) {
		return fail("rtmr3 not in allowlist")
	}

	return &Result{OK: true, RTMR3: cert.RTMR3, TeePubkey: cert.TeePubkey, Platform: "tdx"}, nil
}

func (v *Verifier) parse(ctx context.Context, quoteB64 string) (*Parsed, error) {
	if v.Parser != nil {
		if parsed, err := v.Parser.Parse(ctx, quoteB64); err == nil {
			return parsed, nil
		}
	}
	parsed, err := ParseLocal(quoteB64)
	if err != nil {
		return nil, fmt.Errorf("external parser unavailable and local parse failed: %w", err)
	}
	return parsed, nil
}

func decodeB64OrNil(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

package tee

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"
)

// Offset convention for the decoded quote body (spec §4.1, §9 "the exact
// parser offsets differ between observed TDX parsing sites"). This
// implementation picks ONE convention and documents it: offsets below are
// relative to the start of the body, i.e. AFTER the 48-byte header has
// already been stripped.
const (
	quoteHeaderLen    = 48
	reportDataOffset  = 520 - quoteHeaderLen
	reportDataLen     = 64
	rtmr3BodyOffset   = 472 - quoteHeaderLen
	rtmr3Len          = 48
)

// quoteHexPattern matches the raw quote hex embedded in the attestation
// endpoint's HTML response, inside a well-known element such as
// `<div id="quote">...</div>` or `<pre class="quote">...</pre>`.
var quoteHexPattern = regexp.MustCompile(`(?is)id="quote"[^>]*>([0-9a-fA-F]+)<`)

// rtmr3LabelPattern matches a labelled hex RTMR3 value in the HTML, e.g.
// `RTMR3: abcdef...` or `rtmr3=abcdef...`.
var rtmr3LabelPattern = regexp.MustCompile(`(?i)rtmr3["\s:=]+([0-9a-fA-F]{96})`)

// Hardware talks to a SecretVM-style TEE host: a self-signed HTTPS
// attestation endpoint and a loopback-only signing service (spec §4.1
// "Hardware variant contract").
type Hardware struct {
	AttestationURL string // e.g. https://127.0.0.1:29343/attestation
	SigningURL     string // e.g. http://127.0.0.1:29344/sign
	PubkeyPEMPath  string // optional: mounted PEM file with the TEE public key

	httpClient *http.Client

	mu        sync.Mutex
	rtmr3     string
	teePubkey string
	quote     string
}

// NewHardware builds a hardware TEE provider. httpClient may be nil, in
// which case a client that tolerates the enclave's self-signed certificate
// is constructed.
func NewHardware(attestationURL, signingURL, pubkeyPEMPath string, httpClient *http.Client) *Hardware {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed enclave cert, expected
			},
		}
	}
	return &Hardware{
		AttestationURL: attestationURL,
		SigningURL:     signingURL,
		PubkeyPEMPath:  pubkeyPEMPath,
		httpClient:     httpClient,
	}
}

func (h *Hardware) fetchQuoteOnce(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.quote != "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.AttestationURL, nil)
	if err != nil {
		return fmt.Errorf("tee: build attestation request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tee: fetch attestation endpoint: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tee: attestation endpoint status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tee: read attestation body: %w", err)
	}

	m := quoteHexPattern.FindSubmatch(body)
	if m == nil {
		return fmt.Errorf("tee: quote hex not found in attestation page")
	}
	quoteHex := string(m[1])
	quoteBytes, err := hex.DecodeString(quoteHex)
	if err != nil {
		return fmt.Errorf("tee: decode quote hex: %w", err)
	}
	if len(quoteBytes) < quoteHeaderLen {
		return fmt.Errorf("tee: quote shorter than header (%d bytes)", len(quoteBytes))
	}
	quoteBody := quoteBytes[quoteHeaderLen:]

	// RTMR3: labelled hex match first, fall back to fixed body offset.
	rtmr3 := ""
	if lm := rtmr3LabelPattern.FindSubmatch(body); lm != nil {
		rtmr3 = string(lm[1])
	} else if len(quoteBody) >= rtmr3BodyOffset+rtmr3Len {
		rtmr3 = hex.EncodeToString(quoteBody[rtmr3BodyOffset : rtmr3BodyOffset+rtmr3Len])
	} else {
		return fmt.Errorf("tee: cannot locate rtmr3 in quote body")
	}

	// TEE pubkey: mounted PEM file first, fall back to report-data offset.
	teePubkey := ""
	if h.PubkeyPEMPath != "" {
		if pubHex, perr := pubkeyFromPEM(h.PubkeyPEMPath); perr == nil {
			teePubkey = pubHex
		}
	}
	if teePubkey == "" {
		if len(quoteBody) >= reportDataOffset+reportDataLen {
			reportData := quoteBody[reportDataOffset : reportDataOffset+reportDataLen]
			teePubkey = hex.EncodeToString(reportData[:32])
		} else {
			return fmt.Errorf("tee: cannot locate report-data in quote body")
		}
	}

	h.quote = base64.StdEncoding.EncodeToString(quoteBytes)
	h.rtmr3 = rtmr3
	h.teePubkey = teePubkey
	return nil
}

// pubkeyFromPEM extracts the TEE public key as the last 32 bytes of the DER
// payload of the first PEM block in path.
func pubkeyFromPEM(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("tee: read pubkey pem: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return "", fmt.Errorf("tee: no PEM block in %s", path)
	}
	if len(block.Bytes) < 32 {
		return "", fmt.Errorf("tee: pem DER payload too short")
	}
	return hex.EncodeToString(block.Bytes[len(block.Bytes)-32:]), nil
}

func (h *Hardware) GetCodeMeasurement(ctx context.Context) (string, error) {
	if err := h.fetchQuoteOnce(ctx); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rtmr3, nil
}

func (h *Hardware) GetTeePublicKey(ctx context.Context) (string, error) {
	if err := h.fetchQuoteOnce(ctx); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.teePubkey, nil
}

func (h *Hardware) GetAttestationQuote(ctx context.Context) (string, error) {
	if err := h.fetchQuoteOnce(ctx); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quote, nil
}

// signRequest/signResponse are the loopback signing service's wire format.
type signRequest struct {
	PayloadB64 string `json:"payload_b64"`
}

type signResponse struct {
	SignatureB64 string `json:"signature_b64"`
}

func (h *Hardware) SignWithTeeKey(ctx context.Context, payload []byte) (string, error) {
	reqBody, err := json.Marshal(signRequest{PayloadB64: base64.StdEncoding.EncodeToString(payload)})
	if err != nil {
		return "", fmt.Errorf("tee: marshal sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.SigningURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("tee: build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tee: call signing service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tee: signing service status %d", resp.StatusCode)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tee: decode sign response: %w", err)
	}
	return out.SignatureB64, nil
}

func (h *Hardware) Platform() string { return "tdx" }

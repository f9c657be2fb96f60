package attestation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Parsed is the result of parsing an attestation quote down to the fields
// the verifier needs.
type Parsed struct {
	ReportData []byte // first bytes embed the TEE public key
	RTMR3      string // hex; empty if the quote does not expose one
	HasRTMR3   bool
}

// mockQuoteBody mirrors the shape produced by tee.Mock.
type mockQuoteBody struct {
	Mock       bool   `json:"mock"`
	ReportData string `json:"report_data"`
	RTMR3      string `json:"rtmr3"`
	Timestamp  int64  `json:"timestamp"`
}

// DecodeMock attempts to decode quoteB64 as a mock quote (spec §4.3 rule 1).
// ok is false if the quote is not a mock quote (i.e. the hardware path
// should be taken instead); it is not an error for a hardware quote to fail
// this decode.
func DecodeMock(quoteB64 string) (reportData []byte, rtmr3 string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(quoteB64)
	if err != nil {
		return nil, "", false
	}
	var q mockQuoteBody
	if err := json.Unmarshal(raw, &q); err != nil || !q.Mock {
		return nil, "", false
	}
	rd, err := hex.DecodeString(q.ReportData)
	if err != nil {
		return nil, "", false
	}
	return rd, q.RTMR3, true
}

// Same offset convention as internal/tee's hardware provider (spec §9 open
// question: pick one convention and validate against a known-good quote).
const (
	quoteHeaderLen   = 48
	reportDataOffset = 520 - quoteHeaderLen
	reportDataLen    = 64
	rtmr3BodyOffset  = 472 - quoteHeaderLen
	rtmr3Len         = 48
)

// ParseLocal parses a hardware quote using the documented TDX offsets,
// without calling out to an external parser service (spec §4.3 rule 2,
// fallback path).
func ParseLocal(quoteB64 string) (*Parsed, error) {
	raw, err := base64.StdEncoding.DecodeString(quoteB64)
	if err != nil {
		return nil, fmt.Errorf("attestation: decode quote base64: %w", err)
	}
	if len(raw) < quoteHeaderLen {
		return nil, fmt.Errorf("attestation: quote shorter than header")
	}
	body := raw[quoteHeaderLen:]
	if len(body) < reportDataOffset+reportDataLen {
		return nil, fmt.Errorf("attestation: quote too short for report-data")
	}
	reportData := body[reportDataOffset : reportDataOffset+reportDataLen]

	p := &Parsed{ReportData: reportData}
	if len(body) >= rtmr3BodyOffset+rtmr3Len {
		p.RTMR3 = hex.EncodeToString(body[rtmr3BodyOffset : rtmr3BodyOffset+rtmr3Len])
		p.HasRTMR3 = true
	}
	return p, nil
}

// Parser abstracts the external PCCS-style quote parsing service (spec §4.3
// rule 2: "POST the quote to an external parser service"). A real
// deployment points this at the PCCS collateral service; it is treated as
// an external collaborator per spec §1 and accessed only through this
// interface.
type Parser interface {
	Parse(ctx context.Context, quoteB64 string) (*Parsed, error)
}

// HTTPParser posts the raw quote to an external parser endpoint.
type HTTPParser struct {
	URL    string
	Client *http.Client
}

// NewHTTPParser builds a parser with a 10s timeout (spec §6 "parser 10 s").
func NewHTTPParser(url string) *HTTPParser {
	return &HTTPParser{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

type parseRequest struct {
	Quote string `json:"quote"`
}

type parseResponse struct {
	ReportDataHex string `json:"report_data"`
	RTMR3         string `json:"rtmr3,omitempty"`
}

func (p *HTTPParser) Parse(ctx context.Context, quoteB64 string) (*Parsed, error) {
	body, err := json.Marshal(parseRequest{Quote: quoteB64})
	if err != nil {
		return nil, fmt.Errorf("attestation: marshal parse request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("attestation: build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestation: call parser service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attestation: parser service status %d", resp.StatusCode)
	}

	var out parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("attestation: decode parser response: %w", err)
	}
	reportData, err := hex.DecodeString(out.ReportDataHex)
	if err != nil {
		return nil, fmt.Errorf("attestation: decode report-data hex: %w", err)
	}
	return &Parsed{ReportData: reportData, RTMR3: out.RTMR3, HasRTMR3: out.RTMR3 != ""}, nil
}

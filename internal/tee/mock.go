package tee

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// mockQuote is the JSON body of a mock attestation quote (spec §4.1 "Mock
// variant contract").
type mockQuote struct {
	Mock       bool   `json:"mock"`
	ReportData string `json:"report_data"`
	RTMR3      string `json:"rtmr3"`
	Timestamp  int64  `json:"timestamp"`
}

// Mock derives a deterministic identity from an agent name: the same name
// always yields the same keypair and RTMR3 across restarts, so tests run
// offline and reproducibly (spec §4.1, §8 "Round-trip / idempotence").
type Mock struct {
	agentName string

	once    sync.Once
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	rtmr3   string
	quoteMu sync.Mutex
}

// NewMock builds a mock TEE provider keyed by agentName.
func NewMock(agentName string) *Mock {
	return &Mock{agentName: agentName}
}

func (m *Mock) derive() {
	m.once.Do(func() {
		seed := sha256.Sum256([]byte("proofofflip-mock-tee-key:" + m.agentName))
		m.priv = ed25519.NewKeyFromSeed(seed[:])
		m.pub = m.priv.Public().(ed25519.PublicKey)

		rtmrSeed := sha256.Sum256([]byte("proofofflip-mock-rtmr3:" + m.agentName))
		m.rtmr3 = hex.EncodeToString(rtmrSeed[:])
	})
}

func (m *Mock) GetCodeMeasurement(_ context.Context) (string, error) {
	m.derive()
	return m.rtmr3, nil
}

func (m *Mock) GetTeePublicKey(_ context.Context) (string, error) {
	m.derive()
	return hex.EncodeToString(m.pub), nil
}

func (m *Mock) GetAttestationQuote(_ context.Context) (string, error) {
	m.derive()
	m.quoteMu.Lock()
	defer m.quoteMu.Unlock()

	reportData := hex.EncodeToString(m.pub)
	// Pad to 128 hex chars (64 bytes), matching the real quote's report-data width.
	for len(reportData) < 128 {
		reportData += "0"
	}

	q := mockQuote{
		Mock:       true,
		ReportData: reportData,
		RTMR3:      m.rtmr3,
		Timestamp:  time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("tee: marshal mock quote: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (m *Mock) SignWithTeeKey(_ context.Context, payload []byte) (string, error) {
	m.derive()
	sig := ed25519.Sign(m.priv, payload)
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (m *Mock) Platform() string { return "mock" }

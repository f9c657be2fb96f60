package agentrt

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/svcauth"
	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/x402"
)

func init() { gin.SetMode(gin.TestMode) }

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		AgentName:      "alice",
		DockerImage:    "proofofflip/agent:test",
		ManifestPath:   mustWriteManifest(t),
		StoragePath:    dir + "/agent-state.json",
		CoordinatorURL: "http://coordinator.invalid",
		EndpointOverride: "http://alice.invalid",
	}
	a := New(cfg, zap.NewNop(), tee.NewMock("alice"), solanarpc.NewMock())
	if err := a.Boot(t.Context()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	return a
}

func mustWriteManifest(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/manifest.json"
	if err := os.WriteFile(path, []byte(`{"image":"test"}`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestHealth(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	a.RegisterRoutes(r, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["agentName"] != "alice" {
		t.Errorf("expected agentName alice, got %v", body["agentName"])
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestBirthCert(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	a.RegisterRoutes(r, nil)

	req := httptest.NewRequest(http.MethodGet, "/birth-cert", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCollect_NoPaymentHeader_Returns402(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	a.RegisterRoutes(r, nil)

	req := httptest.NewRequest(http.MethodGet, "/collect", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	var reqs x402.Requirements
	if err := json.Unmarshal(w.Body.Bytes(), &reqs); err != nil {
		t.Fatalf("decode requirements: %v", err)
	}
	if reqs.Type != "x402" || reqs.Amount != x402.StakeBaseUnits {
		t.Errorf("unexpected requirements: %+v", reqs)
	}
}

func TestCollect_WithPaymentHeader_Returns200(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	a.RegisterRoutes(r, nil)

	proof := x402.Proof{TxSignature: "sig1", Amount: x402.StakeBaseUnits, Payer: "bob"}
	body, _ := json.Marshal(proof)

	req := httptest.NewRequest(http.MethodGet, "/collect", nil)
	req.Header.Set("X-Payment", string(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out x402.CollectedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "collected" || out.TxSignature != "sig1" {
		t.Errorf("unexpected response: %+v", out)
	}
}

func TestPlay_Winner_Acknowledges(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	a.RegisterRoutes(r, nil)

	cmd := GameCommand{GameID: "g1", Role: "winner"}
	body, _ := json.Marshal(cmd)
	req := httptest.NewRequest(http.MethodPost, "/play", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPlay_RequiresDispatchToken(t *testing.T) {
	a := newTestAgent(t)
	r := gin.New()
	verifier := svcauth.NewVerifier("shared-secret")
	a.RegisterRoutes(r, verifier)

	cmd := GameCommand{GameID: "g1", Role: "winner"}
	body, _ := json.Marshal(cmd)
	req := httptest.NewRequest(http.MethodPost, "/play", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without dispatch token, got %d", w.Code)
	}

	issuer := svcauth.NewIssuer("shared-secret")
	tok, err := issuer.Mint("g1")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	req2 := httptest.NewRequest(http.MethodPost, "/play", bytes.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set(svcauth.DispatchTokenHeader, tok)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid dispatch token, got %d", w2.Code)
	}
}

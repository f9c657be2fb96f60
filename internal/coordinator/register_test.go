package coordinator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/attestation"
	"github.com/proofofflip/proofofflip/internal/identity"
	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/wallet"
)

func init() { gin.SetMode(gin.TestMode) }

type stubFunder struct{ calls int }

func (f *stubFunder) FundInitial(ctx context.Context, wallet string) error {
	f.calls++
	return nil
}

func mustManifest(t *testing.T) string {
	t.Helper()
	path := t.TempDir() + "/manifest.json"
	if err := os.WriteFile(path, []byte(`{"x":1}`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func buildTestCert(t *testing.T, agentName string) (*identity.BirthCertificate, *wallet.KeyPair) {
	t.Helper()
	wk, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	cert, err := identity.Build(context.Background(), agentName, wk, tee.NewMock(agentName), "proofofflip/agent:test", mustManifest(t))
	if err != nil {
		t.Fatalf("build cert: %v", err)
	}
	return cert, wk
}

func newTestRegistrationHandler(t *testing.T, allow *attestation.Allowlist) (*RegistrationHandler, *Pool, *stubFunder) {
	t.Helper()
	pool := NewPool(newTestRedis(t))
	funder := &stubFunder{}
	h := &RegistrationHandler{
		Pool:      pool,
		Verifier:  attestation.NewVerifier(nil),
		Allowlist: allow,
		Funder:    funder,
		Bus:       NewEventBus(newTestRedis(t), zap.NewNop()),
		Log:       zap.NewNop(),
		MockMode:  true,
	}
	return h, pool, funder
}

func doRegister(t *testing.T, h *RegistrationHandler, cert *identity.BirthCertificate, wk *wallet.KeyPair, endpoint string) *httptest.ResponseRecorder {
	t.Helper()
	msg := fmt.Sprintf("register:%s:%s", cert.WalletAddress, endpoint)
	sig := wk.Sign([]byte(msg))

	body, _ := json.Marshal(map[string]any{
		"birthCert": cert,
		"endpoint":  endpoint,
		"signature": base64.StdEncoding.EncodeToString(sig),
	})

	r := gin.New()
	r.POST("/api/register", h.Handle)
	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegister_HappyPath(t *testing.T) {
	h, pool, funder := newTestRegistrationHandler(t, attestation.NewOpen())
	cert, wk := buildTestCert(t, "alice")

	w := doRegister(t, h, cert, wk, "http://alice.invalid")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !pool.Exists(cert.WalletAddress) {
		t.Fatalf("expected agent admitted to pool")
	}
	if funder.calls != 1 {
		t.Errorf("expected exactly 1 funding call, got %d", funder.calls)
	}
}

func TestRegister_TamperedTeeSignature_Rejected(t *testing.T) {
	h, pool, _ := newTestRegistrationHandler(t, attestation.NewOpen())
	cert, wk := buildTestCert(t, "alice")

	sig, _ := base64.StdEncoding.DecodeString(cert.TeeSignature)
	sig[0] ^= 0xFF
	cert.TeeSignature = base64.StdEncoding.EncodeToString(sig)

	w := doRegister(t, h, cert, wk, "http://alice.invalid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp registerResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !contains(resp.Message, "TEE signature") {
		t.Errorf("expected reason to mention TEE signature, got %q", resp.Message)
	}
	if pool.Exists(cert.WalletAddress) {
		t.Fatalf("expected pool unchanged after rejected registration")
	}
}

func TestRegister_AllowlistRejection(t *testing.T) {
	allow := attestation.NewExplicit([]string{"deadbeef00000000000000000000000000000000000000000000000000000"})
	h, pool, _ := newTestRegistrationHandler(t, allow)
	cert, wk := buildTestCert(t, "alice")

	w := doRegister(t, h, cert, wk, "http://alice.invalid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var resp registerResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !contains(resp.Message, "allowlist") {
		t.Errorf("expected reason to mention allowlist, got %q", resp.Message)
	}
	if pool.Exists(cert.WalletAddress) {
		t.Fatalf("expected pool unchanged after rejected registration")
	}
}

func TestRegister_DuplicateWallet_Rejected(t *testing.T) {
	h, _, _ := newTestRegistrationHandler(t, attestation.NewOpen())
	cert, wk := buildTestCert(t, "alice")

	w1 := doRegister(t, h, cert, wk, "http://alice.invalid")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first registration to succeed, got %d", w1.Code)
	}
	w2 := doRegister(t, h, cert, wk, "http://alice.invalid")
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected duplicate registration rejected, got %d", w2.Code)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}

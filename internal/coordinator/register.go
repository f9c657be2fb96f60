package coordinator

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/attestation"
	"github.com/proofofflip/proofofflip/internal/identity"
	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/wallet"
	"github.com/proofofflip/proofofflip/internal/x402"
)

type registerRequest struct {
	BirthCert *identity.BirthCertificate `json:"birthCert"`
	Endpoint  string                     `json:"endpoint"`
	Signature string                     `json:"signature"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Funder performs the initial funding transfer (native gas + one unit of
// stablecoin), an external collaborator accessed only through this
// interface (spec §4.5 registration step 6).
type Funder interface {
	FundInitial(ctx context.Context, wallet string) error
}

// RegistrationHandler implements POST /api/register (spec §4.5).
type RegistrationHandler struct {
	Pool      *Pool
	Verifier  *attestation.Verifier
	Allowlist *attestation.Allowlist
	Funder    Funder
	Bus       *EventBus
	Log       *zap.Logger

	// MockMode admits agents with a simulated balance when funding fails
	// (spec §7: "Funding failure ... in mock/local mode admit anyway").
	MockMode bool
}

func (h *RegistrationHandler) Handle(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "malformed registration payload"})
		return
	}
	if req.BirthCert == nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "missing birthCert"})
		return
	}

	// Step 1: determine effective callback URL, but verify the signature
	// against the endpoint string the agent actually signed.
	signedEndpoint := req.Endpoint
	effectiveEndpoint := req.Endpoint
	if effectiveEndpoint == "" || isLoopback(effectiveEndpoint) {
		if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
			effectiveEndpoint = "http://" + host
		} else {
			effectiveEndpoint = "http://" + c.Request.RemoteAddr
		}
	}

	ctx := c.Request.Context()

	// Step 2: attestation.
	result, err := h.Verifier.Verify(ctx, req.BirthCert, h.Allowlist)
	if err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "attestation error: " + err.Error()})
		return
	}
	if !result.OK {
		c.JSON(http.StatusBadRequest, registerResponse{Message: result.Reason})
		return
	}

	// Step 3: wallet signature over the canonical message.
	if err := wallet.Verify(req.BirthCert.WalletAddress, req.BirthCert.Message(), decodeSigB64(req.BirthCert.WalletSignature)); err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "wallet signature invalid: " + err.Error()})
		return
	}

	// Step 4: registration-request signature, verified against the
	// originally-signed endpoint string.
	regMsg := fmt.Sprintf("register:%s:%s", req.BirthCert.WalletAddress, signedEndpoint)
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "malformed registration signature"})
		return
	}
	if err := wallet.Verify(req.BirthCert.WalletAddress, []byte(regMsg), sig); err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "registration signature invalid: " + err.Error()})
		return
	}

	// Step 5: reject duplicate wallet.
	if h.Pool.Exists(req.BirthCert.WalletAddress) {
		c.JSON(http.StatusBadRequest, registerResponse{Message: "wallet already registered"})
		return
	}

	// Step 6: initial funding, idempotent per wallet.
	funded, err := h.Pool.IsFunded(ctx, req.BirthCert.WalletAddress)
	if err != nil {
		h.Log.Warn("check funded wallets failed", zap.Error(err))
	}
	balance := int64(0)
	if !funded {
		if fundErr := h.Funder.FundInitial(ctx, req.BirthCert.WalletAddress); fundErr != nil {
			h.Log.Warn("initial funding failed", zap.String("wallet", req.BirthCert.WalletAddress), zap.Error(fundErr))
			if h.MockMode {
				balance = x402.InitialFundingBaseUnits
			}
		} else {
			balance = x402.InitialFundingBaseUnits
			if err := h.Pool.MarkFunded(ctx, req.BirthCert.WalletAddress); err != nil {
				h.Log.Warn("mark funded failed", zap.Error(err))
			}
		}
	}

	// Step 7: admit.
	agent := &Agent{
		AgentName:     req.BirthCert.AgentName,
		WalletAddress: req.BirthCert.WalletAddress,
		Endpoint:      effectiveEndpoint,
		BirthCert:     req.BirthCert,
		RegisteredAt:  time.Now(),
		BalanceUnits:  balance,
		Status:        StatusActive,
	}
	if err := h.Pool.Insert(agent); err != nil {
		c.JSON(http.StatusBadRequest, registerResponse{Message: err.Error()})
		return
	}

	h.Bus.Publish(ctx, Event{Type: "agent_joined", Data: agent, Timestamp: time.Now()})
	c.JSON(http.StatusOK, registerResponse{Success: true, Message: "registered"})
}

func isLoopback(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "127.0.0.1") || strings.Contains(lower, "localhost") || strings.Contains(lower, "::1")
}

func decodeSigB64(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// solanaFunder is the real Funder backed by a solanarpc.Client. The native
// gas component of initial funding rides the same throttled top-up path as
// internal/coordinator/topup.go rather than a separate transfer here, since
// a freshly-funded agent with zero SOL would otherwise need a second
// in-band funding mechanism.
type solanaFunder struct {
	solana   solanarpc.Client
	treasury *solanarpc.Signer
	mint     string
}

func NewSolanaFunder(solana solanarpc.Client, treasury *solanarpc.Signer, mint string) Funder {
	return &solanaFunder{solana: solana, treasury: treasury, mint: mint}
}

func (f *solanaFunder) FundInitial(ctx context.Context, addr string) error {
	if _, err := f.solana.EnsureAssociatedTokenAccount(ctx, f.treasury, addr, f.mint); err != nil {
		return fmt.Errorf("coordinator: ensure ata: %w", err)
	}
	if _, err := f.solana.TransferToken(ctx, f.treasury, addr, f.mint, x402.InitialFundingBaseUnits); err != nil {
		return fmt.Errorf("coordinator: transfer initial funding: %w", err)
	}
	return nil
}

package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/solanarpc"
)

// GasFunder sends a gas-only funding transfer (spec §4.4 "Gas top-up").
type GasFunder interface {
	FundGas(ctx context.Context, wallet string) error
}

// TopupHandler implements POST /api/topup-sol, throttled per wallet
// (SUPPLEMENTED FEATURES: "Gas top-up throttling").
type TopupHandler struct {
	Pool     *Pool
	Funder   GasFunder
	Cooldown time.Duration
	Log      *zap.Logger
}

type topupRequest struct {
	AgentName string `json:"agentName"`
	Wallet    string `json:"wallet"`
}

func (h *TopupHandler) Handle(c *gin.Context) {
	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed topup request"})
		return
	}
	agent, ok := h.Pool.Get(req.Wallet)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown wallet"})
		return
	}
	if time.Since(agent.LastTopupAt) < h.Cooldown {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "topup on cooldown"})
		return
	}

	if err := h.Funder.FundGas(c.Request.Context(), req.Wallet); err != nil {
		h.Log.Warn("gas topup failed", zap.String("wallet", req.Wallet), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup failed"})
		return
	}
	h.Pool.Mutate(req.Wallet, func(a *Agent) { a.LastTopupAt = time.Now() })
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type solanaGasFunder struct {
	solana   solanarpc.Client
	treasury *solanarpc.Signer
	amount   int64
}

func NewSolanaGasFunder(solana solanarpc.Client, treasury *solanarpc.Signer, lamports int64) GasFunder {
	return &solanaGasFunder{solana: solana, treasury: treasury, amount: lamports}
}

func (f *solanaGasFunder) FundGas(ctx context.Context, wallet string) error {
	_, err := f.solana.TransferSOL(ctx, f.treasury, wallet, uint64(f.amount))
	return err
}

package agentrt

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/svcauth"
	"github.com/proofofflip/proofofflip/internal/x402"
)

// RegisterRoutes mounts the Agent's HTTP contract (spec §4.4) onto engine.
func (a *Agent) RegisterRoutes(r *gin.Engine, verifier *svcauth.Verifier) {
	r.GET("/health", a.handleHealth)
	r.GET("/birth-cert", a.handleBirthCert)
	r.GET("/attestation", a.handleAttestation)
	r.GET("/collect", a.handleCollect)
	r.POST("/play", a.dispatchAuth(verifier), a.handlePlay)
}

func (a *Agent) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"agentName":     a.cfg.AgentName,
		"status":        "ok",
		"uptime":        a.Uptime().Seconds(),
		"walletAddress": a.Wallet().Address(),
	})
}

func (a *Agent) handleBirthCert(c *gin.Context) {
	cert := a.BirthCert()
	if cert == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity not ready"})
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (a *Agent) handleAttestation(c *gin.Context) {
	ctx := c.Request.Context()
	rtmr3, err := a.teeProvider.GetCodeMeasurement(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	pubkey, err := a.teeProvider.GetTeePublicKey(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	quote, err := a.teeProvider.GetAttestationQuote(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	cert := a.BirthCert()
	var codeHash string
	var timestamp int64
	if cert != nil {
		codeHash = cert.CodeHash
		timestamp = cert.Timestamp
	}
	c.JSON(http.StatusOK, gin.H{
		"rtmr3":     rtmr3,
		"codeHash":  codeHash,
		"timestamp": timestamp,
		"provider":  a.teeProvider.Platform(),
		"quote":     quote,
		"teePubkey": pubkey,
	})
}

// handleCollect implements the x402 payment endpoint (spec §4.4, §6).
func (a *Agent) handleCollect(c *gin.Context) {
	header := c.GetHeader("X-Payment")
	if header == "" {
		c.JSON(http.StatusPaymentRequired, x402.Requirements{
			Type:        "x402",
			Version:     "1",
			Address:     a.Wallet().Address(),
			Token:       x402.USDCMint,
			Amount:      x402.StakeBaseUnits,
			Network:     "solana-mainnet",
			Description: "ProofOfFlip match stake",
		})
		return
	}

	var proof x402.Proof
	if err := json.Unmarshal([]byte(header), &proof); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed X-Payment header"})
		return
	}

	if _, dup := a.collectedSignatures.LoadOrStore(proof.TxSignature, struct{}{}); dup {
		a.log.Info("duplicate collect suppressed", zap.String("tx", proof.TxSignature))
	}
	a.gameTxSignatures.Store(proof.TxSignature, struct{}{})

	c.JSON(http.StatusOK, x402.CollectedResponse{
		Status:      "collected",
		Agent:       a.cfg.AgentName,
		TxSignature: proof.TxSignature,
	})
}

// dispatchAuth verifies the Coordinator-issued dispatch token before /play
// runs (spec §4.4: "Coordinator-authenticated dispatch").
func (a *Agent) dispatchAuth(verifier *svcauth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}
		token := c.GetHeader(svcauth.DispatchTokenHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing dispatch token"})
			return
		}
		if _, err := verifier.Verify(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

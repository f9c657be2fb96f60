package agentrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/x402"
)

// GameCommand is the payload of a Coordinator /play dispatch (spec §4.4).
type GameCommand struct {
	GameID           string `json:"gameId"`
	Role             string `json:"role"` // "winner" | "loser"
	OpponentName     string `json:"opponentName"`
	OpponentEndpoint string `json:"opponentEndpoint"`
	OpponentWallet   string `json:"opponentWallet"`
	StakeAmount      int64  `json:"stakeAmount"`
	Timestamp        int64  `json:"timestamp"`
}

func (a *Agent) handlePlay(c *gin.Context) {
	var cmd GameCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed game command"})
		return
	}

	switch cmd.Role {
	case "winner":
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	case "loser":
		sig, err := a.payWinner(c.Request.Context(), cmd)
		if err != nil {
			a.log.Warn("payWinner failed", zap.String("gameId", cmd.GameID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "payment_failed", "error": err.Error()})
			return
		}
		a.gameTxSignatures.Store(sig, struct{}{})
		c.JSON(http.StatusOK, gin.H{"status": "paid", "gameId": cmd.GameID, "txSignature": sig})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
	}
}

// payWinner implements the loser's settlement path (spec §4.4 "Match
// protocol (agent side)"): x402 handshake first, direct transfer only if
// the handshake itself fails (not if the on-chain transfer fails).
func (a *Agent) payWinner(ctx context.Context, cmd GameCommand) (string, error) {
	sig, handshakeErr := a.payViaX402(ctx, cmd)
	if handshakeErr == nil {
		return sig, nil
	}

	var tf *transferFailure
	if errors.As(handshakeErr, &tf) {
		// The transfer itself failed, not the handshake — spec §4.4 says the
		// fallback only fires when the handshake channel is broken.
		return "", fmt.Errorf("agentrt: on-chain transfer failed: %w", tf.err)
	}

	a.log.Warn("x402 handshake failed, falling back to direct transfer",
		zap.String("gameId", cmd.GameID), zap.Error(handshakeErr))

	wk := a.Wallet()
	signer := &solanarpc.Signer{Address: wk.Address(), Sign: wk.Sign}
	sig, err := a.solana.TransferToken(ctx, signer, cmd.OpponentWallet, x402.USDCMint, cmd.StakeAmount)
	if err != nil {
		return "", fmt.Errorf("agentrt: direct transfer fallback failed: %w", err)
	}
	return sig, nil
}

// payViaX402 runs the three-step handshake from spec §4.4 step 1. A
// non-nil error here means the handshake channel itself is broken (dead
// endpoint, bad requirements, malformed 402 body) — the caller distinguishes
// this from an on-chain transfer failure to decide whether to fall back.
func (a *Agent) payViaX402(ctx context.Context, cmd GameCommand) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	collectURL := cmd.OpponentEndpoint + "/collect"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, collectURL, nil)
	if err != nil {
		return "", fmt.Errorf("build collect request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET collect: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusPaymentRequired {
		return "", fmt.Errorf("expected 402 from collect, got %d", resp.StatusCode)
	}
	var reqs x402.Requirements
	if err := json.NewDecoder(resp.Body).Decode(&reqs); err != nil {
		return "", fmt.Errorf("decode payment requirements: %w", err)
	}

	wk := a.Wallet()
	signer := &solanarpc.Signer{Address: wk.Address(), Sign: wk.Sign}
	txSig, transferErr := a.solana.TransferToken(ctx, signer, reqs.Address, reqs.Token, reqs.Amount)
	if transferErr != nil {
		// The handshake itself succeeded (we have valid requirements); the
		// transfer failing is an on-chain problem, not a handshake problem,
		// so per spec §4.4 this must NOT trigger the fallback path.
		return "", &transferFailure{err: transferErr}
	}

	proof := x402.Proof{TxSignature: txSig, Amount: reqs.Amount, Payer: wk.Address()}
	proofJSON, err := json.Marshal(proof)
	if err != nil {
		return "", fmt.Errorf("marshal payment proof: %w", err)
	}

	ackReq, err := http.NewRequestWithContext(ctx, http.MethodGet, collectURL, nil)
	if err != nil {
		return "", fmt.Errorf("build collect ack request: %w", err)
	}
	ackReq.Header.Set("X-Payment", string(proofJSON))
	ackResp, err := client.Do(ackReq)
	if err != nil {
		// Payment is already on-chain; per the decided policy in DESIGN.md
		// (spec §9 open question), an ack-retry failure after a completed
		// payment is still treated as success — the transfer happened.
		a.log.Warn("collect ack retry failed after completed transfer", zap.String("gameId", cmd.GameID), zap.Error(err))
		return txSig, nil
	}
	defer ackResp.Body.Close() //nolint:errcheck
	if _, err := io.Copy(io.Discard, ackResp.Body); err != nil {
		return txSig, nil
	}
	return txSig, nil
}

// transferFailure wraps an on-chain transfer error so payWinner can tell it
// apart from a handshake-channel failure without a second return value.
type transferFailure struct{ err error }

func (t *transferFailure) Error() string { return t.err.Error() }
func (t *transferFailure) Unwrap() error { return t.err }

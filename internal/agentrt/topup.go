package agentrt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TopupThresholdLamports is the native-token balance, in lamports, below which the
// agent requests a gas top-up (spec §6: "SOL top-up threshold = per-
// deployment constant").
const TopupThresholdLamports = 5_000_000 // 0.005 SOL

type topupRequest struct {
	AgentName string `json:"agentName"`
	Wallet    string `json:"wallet"`
}

// MaybeRequestTopup checks the agent's native balance and, if below
// TopupThresholdLamports, asks the Coordinator for a gas-only funding
// transfer (spec §4.4 "Gas top-up"). The Coordinator enforces the actual
// throttle.
func (a *Agent) MaybeRequestTopup(ctx context.Context) error {
	bal, err := a.solana.GetSOLBalance(ctx, a.Wallet().Address())
	if err != nil {
		return fmt.Errorf("agentrt: check sol balance: %w", err)
	}
	if bal >= TopupThresholdLamports {
		return nil
	}

	body, err := json.Marshal(topupRequest{AgentName: a.cfg.AgentName, Wallet: a.Wallet().Address()})
	if err != nil {
		return fmt.Errorf("agentrt: marshal topup request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.CoordinatorURL+"/api/topup-sol", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agentrt: build topup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("agentrt: post topup request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	return nil
}

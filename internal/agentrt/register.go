package agentrt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	registerAttempts = 5
	registerSpacing  = 5 * time.Second
)

type registerRequest struct {
	BirthCert any    `json:"birthCert"`
	Endpoint  string `json:"endpoint"`
	Signature string `json:"signature"`
}

type registerResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SecretAIKey  string `json:"secretAiKey,omitempty"`
}

// Register runs the registering phase: POST to the Coordinator with bounded
// retries (spec §4.4: "5 attempts at 5 s spacing"; spec §9: "Retry policy").
func (a *Agent) Register(ctx context.Context) error {
	a.setPhase(PhaseRegistering)

	endpoint := a.cfg.EndpointOverride
	wk := a.Wallet()
	msg := fmt.Sprintf("register:%s:%s", wk.Address(), endpoint)
	sig := wk.Sign([]byte(msg))

	body, err := json.Marshal(registerRequest{
		BirthCert: a.BirthCert(),
		Endpoint:  endpoint,
		Signature: base64.StdEncoding.EncodeToString(sig),
	})
	if err != nil {
		a.markAborted()
		return fmt.Errorf("agentrt: marshal registration: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		if err := a.tryRegister(ctx, body); err != nil {
			lastErr = err
			a.log.Warn("registration attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				a.markAborted()
				return ctx.Err()
			case <-time.After(registerSpacing):
			}
			continue
		}
		a.markRunning()
		return nil
	}

	a.markAborted()
	return fmt.Errorf("agentrt: registration failed after %d attempts: %w", registerAttempts, lastErr)
}

func (a *Agent) tryRegister(ctx context.Context, body []byte) error {
	url := a.cfg.CoordinatorURL + "/api/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("post register: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return fmt.Errorf("coordinator rejected registration: %s", out.Message)
	}
	return nil
}

package coordinator

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/svcauth"
)

const (
	livenessTimeout = 3 * time.Second
	dispatchTimeout = 10 * time.Second
)

// gameCommand mirrors agentrt.GameCommand; kept as a separate local type so
// this package has no dependency on the agent runtime.
type gameCommand struct {
	GameID           string `json:"gameId"`
	Role             string `json:"role"`
	OpponentName     string `json:"opponentName"`
	OpponentEndpoint string `json:"opponentEndpoint"`
	OpponentWallet   string `json:"opponentWallet"`
	StakeAmount      int64  `json:"stakeAmount"`
	Timestamp        int64  `json:"timestamp"`
}

// Matcher runs the periodic match loop (spec §4.5 "Match loop").
type Matcher struct {
	Pool      *Pool
	Bus       *EventBus
	VMInv     VMInventory
	Log       *zap.Logger
	Dispatch  *svcauth.Issuer
	GameLog   *GameLog

	MaxActive     int
	MinStakeUnits int64
	StakeUnits    int64

	httpClient *http.Client
}

func NewMatcher(pool *Pool, bus *EventBus, vmInv VMInventory, dispatch *svcauth.Issuer, gameLog *GameLog, log *zap.Logger, maxActive int, minStake, stake int64) *Matcher {
	return &Matcher{
		Pool: pool, Bus: bus, VMInv: vmInv, Dispatch: dispatch, GameLog: gameLog, Log: log,
		MaxActive: maxActive, MinStakeUnits: minStake, StakeUnits: stake,
		httpClient: &http.Client{},
	}
}

// Run blocks until ctx is cancelled, ticking every interval (spec §5: "A
// match tick that overruns the interval does not reschedule").
func (m *Matcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one iteration of the match loop.
func (m *Matcher) Tick(ctx context.Context) {
	m.rerank(ctx)

	a, b, ok := m.pickPair()
	if !ok {
		return
	}

	if !m.preflight(ctx, a, b) {
		return
	}

	winnerWallet, loserWallet, err := coinFlip(a.WalletAddress, b.WalletAddress)
	if err != nil {
		m.Log.Error("coin flip failed", zap.Error(err))
		return
	}
	winner, _ := m.Pool.Get(winnerWallet)
	loser, _ := m.Pool.Get(loserWallet)

	gameID := fmt.Sprintf("game-%d", time.Now().UnixNano())
	cmd := gameCommand{
		GameID:      gameID,
		StakeAmount: m.StakeUnits,
		Timestamp:   time.Now().UnixMilli(),
	}

	winnerCmd := cmd
	winnerCmd.Role = "winner"
	winnerCmd.OpponentName = loser.AgentName
	winnerCmd.OpponentEndpoint = loser.Endpoint
	winnerCmd.OpponentWallet = loser.WalletAddress

	if err := m.dispatch(ctx, winner.Endpoint, winnerCmd); err != nil {
		m.Log.Warn("winner dispatch failed, aborting match", zap.String("winner", winner.AgentName), zap.Error(err))
		m.markOffline(ctx, winner.WalletAddress)
		return
	}

	loserCmd := cmd
	loserCmd.Role = "loser"
	loserCmd.OpponentName = winner.AgentName
	loserCmd.OpponentEndpoint = winner.Endpoint
	loserCmd.OpponentWallet = winner.WalletAddress

	loserDispatchErr := m.dispatch(ctx, loser.Endpoint, loserCmd)
	if loserDispatchErr != nil {
		m.Log.Warn("loser dispatch failed, recording result anyway", zap.String("loser", loser.AgentName), zap.Error(loserDispatchErr))
		m.markOffline(ctx, loser.WalletAddress)
	}

	m.applyResult(ctx, gameID, winner.WalletAddress, loser.WalletAddress)
}

func (m *Matcher) rerank(ctx context.Context) {
	promoted, demoted := m.Pool.Rerank(m.MaxActive, m.MinStakeUnits)
	for _, a := range promoted {
		m.Bus.Publish(ctx, Event{Type: "agent_joined", Data: a, Timestamp: time.Now()})
	}
	for _, a := range demoted {
		m.Bus.Publish(ctx, Event{Type: "agent_evicted", Data: a, Timestamp: time.Now()})
	}
}

// pickPair selects two distinct active agents uniformly at random without
// replacement (spec §4.5 step 2).
func (m *Matcher) pickPair() (*Agent, *Agent, bool) {
	wallets := m.Pool.ActiveWallets()
	if len(wallets) < 2 {
		return nil, nil, false
	}
	i, err := randIndex(len(wallets))
	if err != nil {
		return nil, nil, false
	}
	j, err := randIndex(len(wallets) - 1)
	if err != nil {
		return nil, nil, false
	}
	if j >= i {
		j++
	}
	a, _ := m.Pool.Get(wallets[i])
	b, _ := m.Pool.Get(wallets[j])
	if a == nil || b == nil {
		return nil, nil, false
	}
	return a, b, true
}

// preflight probes both agents' /health with a 3s timeout in parallel (spec
// §4.5 step 3); any failure evicts and consults VM inventory.
func (m *Matcher) preflight(ctx context.Context, a, b *Agent) bool {
	type result struct {
		agent *Agent
		err   error
	}
	results := make(chan result, 2)
	for _, ag := range []*Agent{a, b} {
		go func(ag *Agent) {
			results <- result{agent: ag, err: m.probeHealth(ctx, ag)}
		}(ag)
	}

	var failed []*Agent
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			failed = append(failed, r.agent)
		}
	}
	if len(failed) == 0 {
		return true
	}
	for _, ag := range failed {
		m.markOffline(ctx, ag.WalletAddress)
		go m.consultVMInventory(context.Background(), ag)
	}
	return false
}

func (m *Matcher) probeHealth(ctx context.Context, a *Agent) error {
	ctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check status %d", resp.StatusCode)
	}
	return nil
}

func (m *Matcher) markOffline(ctx context.Context, wallet string) {
	m.Pool.Mutate(wallet, func(a *Agent) { a.Status = StatusOffline })
	if a, ok := m.Pool.Get(wallet); ok {
		m.Bus.Publish(ctx, Event{Type: "agent_evicted", Data: a, Timestamp: time.Now()})
	}
}

// consultVMInventory downgrades offline -> deleted if the backing VM no
// longer exists (SUPPLEMENTED FEATURES: VM-inventory consult).
func (m *Matcher) consultVMInventory(ctx context.Context, a *Agent) {
	if m.VMInv == nil {
		return
	}
	exists, err := m.VMInv.Exists(ctx, a.AgentName)
	if err != nil {
		m.Log.Warn("vm inventory check failed", zap.String("agent", a.AgentName), zap.Error(err))
		return
	}
	if !exists {
		m.Pool.Mutate(a.WalletAddress, func(ag *Agent) { ag.Status = StatusDeleted })
	}
}

func (m *Matcher) dispatch(ctx context.Context, endpoint string, cmd gameCommand) error {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal game command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/play", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build play request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Dispatch != nil {
		tok, err := m.Dispatch.Mint(cmd.GameID)
		if err != nil {
			return fmt.Errorf("mint dispatch token: %w", err)
		}
		req.Header.Set(svcauth.DispatchTokenHeader, tok)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post /play: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("/play status %d", resp.StatusCode)
	}
	return nil
}

// applyResult credits the winner, debits the loser, updates streaks, logs
// the result, and broadcasts it (spec §4.5 step 6).
func (m *Matcher) applyResult(ctx context.Context, gameID, winnerWallet, loserWallet string) {
	var winnerName, loserName string
	m.Pool.Mutate(winnerWallet, func(a *Agent) {
		a.Wins++
		a.BalanceUnits += m.StakeUnits
		if a.CurrentStreak >= 0 {
			a.CurrentStreak++
		} else {
			a.CurrentStreak = 1
		}
		if a.CurrentStreak > a.LongestStreak {
			a.LongestStreak = a.CurrentStreak
		}
		winnerName = a.AgentName
	})
	m.Pool.Mutate(loserWallet, func(a *Agent) {
		a.Losses++
		a.BalanceUnits -= m.StakeUnits
		if a.CurrentStreak <= 0 {
			a.CurrentStreak--
		} else {
			a.CurrentStreak = -1
		}
		loserName = a.AgentName
	})

	result := GameResult{
		GameID:       gameID,
		Winner:       winnerName,
		Loser:        loserName,
		WinnerWallet: winnerWallet,
		LoserWallet:  loserWallet,
		StakeAmount:  m.StakeUnits,
		Timestamp:    time.Now(),
	}
	m.GameLog.Append(result)
	m.Bus.Publish(ctx, Event{Type: "game_result", Data: result, Timestamp: time.Now()})
}

// coinFlip samples one unbiased bit from a CSPRNG to select winner vs loser
// (spec §4.5 step 4: "must be sampled from a CSPRNG, never from a
// game-state-dependent value").
func coinFlip(walletA, walletB string) (winner, loser string, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil {
		return "", "", fmt.Errorf("coordinator: csprng coin flip: %w", err)
	}
	if n.Int64() == 0 {
		return walletA, walletB, nil
	}
	return walletB, walletA, nil
}

func randIndex(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("coordinator: randIndex of empty range")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// VMInventory is satisfied by the external collaborator that knows whether
// an agent's backing VM still exists (spec §1, SUPPLEMENTED FEATURES).
type VMInventory interface {
	Exists(ctx context.Context, agentName string) (bool, error)
}

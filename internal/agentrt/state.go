// Package agentrt is the Agent Runtime (spec §4.4, component C4): boots an
// agent, persists its identity, exposes the HTTP contract other agents and
// the Coordinator call, and executes the winner/loser match roles.
package agentrt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/blobstore"
	"github.com/proofofflip/proofofflip/internal/identity"
	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/wallet"
)

// Phase is one state of the boot state machine (spec §4.4).
type Phase string

const (
	PhaseUnborn      Phase = "unborn"
	PhaseBooting     Phase = "booting"
	PhaseRegistering Phase = "registering"
	PhaseRunning     Phase = "running"
	PhaseAborted     Phase = "aborted"
)

// persistedState is the on-disk shape of the agent-state blob (spec §6:
// "single file keyed agent-state holding {secretKey, birthCert,
// personalityConfig?}").
type persistedState struct {
	SecretKey []byte                      `json:"secretKey"`
	BirthCert *identity.BirthCertificate  `json:"birthCert"`
}

// Config bundles everything the Agent needs to boot that isn't produced at
// runtime.
type Config struct {
	AgentName      string
	DockerImage    string
	ManifestPath   string
	StoragePath    string
	CoordinatorURL string
	DispatchSecret string
	EndpointOverride string
	ListenPort     int
}

// Agent is the runtime state for one process: its identity, its role in any
// in-flight match, and the collaborators it needs for attestation,
// settlement, and payment suppression.
type Agent struct {
	cfg Config
	log *zap.Logger

	teeProvider tee.Provider
	solana      solanarpc.Client

	mu    sync.RWMutex
	phase Phase
	wk    *wallet.KeyPair
	cert  *identity.BirthCertificate

	bootedAt time.Time

	// gameTxSignatures discriminates settled game payments from donations
	// (spec §5 "Shared resources"); written by /play and /collect, read by
	// the donation watcher.
	gameTxSignatures sync.Map // map[string]struct{}

	// collectedSignatures suppresses double-counting of payment proofs
	// presented to /collect more than once.
	collectedSignatures sync.Map // map[string]struct{}
}

// New constructs an Agent in phase unborn. Call Boot to advance it.
func New(cfg Config, log *zap.Logger, teeProvider tee.Provider, solana solanarpc.Client) *Agent {
	return &Agent{
		cfg:         cfg,
		log:         log,
		teeProvider: teeProvider,
		solana:      solana,
		phase:       PhaseUnborn,
	}
}

func (a *Agent) Phase() Phase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

func (a *Agent) Wallet() *wallet.KeyPair {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.wk
}

func (a *Agent) BirthCert() *identity.BirthCertificate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cert
}

func (a *Agent) Uptime() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.bootedAt.IsZero() {
		return 0
	}
	return time.Since(a.bootedAt)
}

// Boot runs the unborn -> booting transition (spec §4.4): load-or-generate
// identity, persisting atomically on first boot.
func (a *Agent) Boot(ctx context.Context) error {
	a.setPhase(PhaseBooting)
	a.bootedAt = time.Now()

	var ps persistedState
	if blobstore.Exists(a.cfg.StoragePath) {
		if err := blobstore.Load(a.cfg.StoragePath, &ps); err != nil {
			a.setPhase(PhaseAborted)
			return fmt.Errorf("agentrt: load persisted identity: %w", err)
		}
		wk, err := wallet.FromSeed(ps.SecretKey)
		if err != nil {
			a.setPhase(PhaseAborted)
			return fmt.Errorf("agentrt: corrupt persisted key: %w", err)
		}
		a.mu.Lock()
		a.wk = wk
		a.cert = ps.BirthCert
		a.mu.Unlock()

		if err := a.checkRTMR3Drift(ctx); err != nil {
			a.log.Warn("rtmr3 drift on restart", zap.Error(err), zap.String("agent", a.cfg.AgentName))
		}
		return nil
	}

	wk, err := wallet.Generate()
	if err != nil {
		a.setPhase(PhaseAborted)
		return fmt.Errorf("agentrt: generate wallet: %w", err)
	}

	cert, err := identity.Build(ctx, a.cfg.AgentName, wk, a.teeProvider, a.cfg.DockerImage, a.cfg.ManifestPath)
	if err != nil {
		a.setPhase(PhaseAborted)
		return fmt.Errorf("agentrt: build birth certificate: %w", err)
	}

	a.mu.Lock()
	a.wk = wk
	a.cert = cert
	a.mu.Unlock()

	if err := blobstore.Save(a.cfg.StoragePath, persistedState{SecretKey: wk.Seed(), BirthCert: cert}); err != nil {
		a.setPhase(PhaseAborted)
		return fmt.Errorf("agentrt: persist identity: %w", err)
	}
	return nil
}

// checkRTMR3Drift re-reads the live RTMR3 and logs (never fails) if it no
// longer matches the stored certificate (spec §4.2: "log a tamper warning
// but continue").
func (a *Agent) checkRTMR3Drift(ctx context.Context) error {
	live, err := a.teeProvider.GetCodeMeasurement(ctx)
	if err != nil {
		return err
	}
	a.mu.RLock()
	stored := a.cert.RTMR3
	a.mu.RUnlock()
	if live != stored {
		return fmt.Errorf("live rtmr3 %s differs from stored %s", live, stored)
	}
	return nil
}

func (a *Agent) markRunning() { a.setPhase(PhaseRunning) }
func (a *Agent) markAborted() { a.setPhase(PhaseAborted) }

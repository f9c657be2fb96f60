package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/agentrt"
	"github.com/proofofflip/proofofflip/internal/config"
	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/svcauth"
	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/x402"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── TEE provider ──────────────────────────────────────────────────────────
	var provider tee.Provider
	switch cfg.TEE.Provider {
	case "secretvm":
		provider = tee.NewHardware(cfg.TEE.AttestationURL, cfg.TEE.SigningURL, cfg.TEE.PubkeyPEMPath, &http.Client{Timeout: 10 * time.Second})
	default:
		provider = tee.NewMock(cfg.Identity.AgentName)
	}

	// ── Solana client ─────────────────────────────────────────────────────────
	var solana solanarpc.Client
	if cfg.Chain.RPCURL != "" {
		// No Solana SDK is available to build real transactions, so the
		// write side still submits through the mock ledger even when reads
		// hit the live cluster.
		solana = solanarpc.NewHTTPClient(cfg.Chain.RPCURL, solanarpc.NewMock())
	} else {
		solana = solanarpc.NewMock()
	}

	agent := agentrt.New(agentrt.Config{
		AgentName:        cfg.Identity.AgentName,
		DockerImage:      cfg.Identity.DockerImage,
		ManifestPath:     cfg.Identity.ManifestPath,
		StoragePath:      cfg.Storage.Path,
		CoordinatorURL:   cfg.Coordinator.URL,
		DispatchSecret:   cfg.Coordinator.DispatchSecret,
		EndpointOverride: cfg.Identity.EndpointOverride,
		ListenPort:       cfg.Server.Port,
	}, log, provider, solana)

	if err := agent.Boot(ctx); err != nil {
		log.Fatal("boot failed", zap.Error(err))
	}

	go func() {
		if err := agent.Register(ctx); err != nil {
			log.Error("registration failed permanently", zap.Error(err))
		}
	}()

	// ── Background watchers ───────────────────────────────────────────────────
	// Both solanarpc.Client implementations expose RecentIncomingTransfers, so
	// the donation watcher runs the same way against the mock ledger locally
	// as it does against a live RPC endpoint.
	if src, ok := solana.(txHistorySource); ok {
		go agent.RunDonationWatcher(ctx, txHistoryAdapter{src}, x402.USDCMint, cfg.Storage.Path+".donations")
	}
	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := agent.MaybeRequestTopup(ctx); err != nil {
					log.Warn("topup check failed", zap.Error(err))
				}
			}
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	var verifier *svcauth.Verifier
	if cfg.Coordinator.DispatchSecret != "" {
		verifier = svcauth.NewVerifier(cfg.Coordinator.DispatchSecret)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	agent.RegisterRoutes(r, verifier)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("agent HTTP server starting", zap.Int("port", cfg.Server.Port), zap.String("agent", cfg.Identity.AgentName))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// txHistorySource is satisfied by both solanarpc.Client implementations,
// letting the donation watcher run against either without a type switch on
// the concrete client.
type txHistorySource interface {
	RecentIncomingTransfers(ctx context.Context, address, mint string) ([]solanarpc.IncomingTransfer, error)
}

// txHistoryAdapter narrows a txHistorySource down to the read-only view
// agentrt.TxHistorySource needs, translating its transfer record type so
// neither package imports the other.
type txHistoryAdapter struct {
	client txHistorySource
}

func (a txHistoryAdapter) RecentIncomingTransfers(ctx context.Context, wallet, mint string) ([]agentrt.IncomingTransfer, error) {
	raw, err := a.client.RecentIncomingTransfers(ctx, wallet, mint)
	if err != nil {
		return nil, err
	}
	out := make([]agentrt.IncomingTransfer, len(raw))
	for i, t := range raw {
		out[i] = agentrt.IncomingTransfer{Signature: t.Signature, FromOwner: t.FromOwner, Amount: t.Amount}
	}
	return out, nil
}

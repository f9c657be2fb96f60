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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/attestation"
	"github.com/proofofflip/proofofflip/internal/blobstore"
	"github.com/proofofflip/proofofflip/internal/config"
	"github.com/proofofflip/proofofflip/internal/coordinator"
	"github.com/proofofflip/proofofflip/internal/identity"
	"github.com/proofofflip/proofofflip/internal/solanarpc"
	"github.com/proofofflip/proofofflip/internal/svcauth"
	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/wallet"
	"github.com/proofofflip/proofofflip/internal/x402"
)

// walletBlob is the on-disk shape of dashboard-wallet.json (spec §6): the
// secret-key byte array on its own, separate from the identity blob.
type walletBlob struct {
	SecretKey []byte `json:"secretKey"`
}

// identityBlob is the on-disk shape of dashboard-identity.json (spec §6).
type identityBlob struct {
	BirthCert *identity.BirthCertificate `json:"birthCert"`
}

// bootIdentity loads the Coordinator's own wallet and birth certificate from
// the two-file layout spec.md §6 assigns it, generating and persisting both
// on first boot, mirroring agentrt.Agent.Boot's load-or-generate sequence.
func bootIdentity(ctx context.Context, cfg *config.CoordinatorConfig, provider tee.Provider) (*wallet.KeyPair, *identity.BirthCertificate, error) {
	if blobstore.Exists(cfg.Storage.WalletPath) {
		var wb walletBlob
		if err := blobstore.Load(cfg.Storage.WalletPath, &wb); err != nil {
			return nil, nil, fmt.Errorf("load dashboard wallet: %w", err)
		}
		wk, err := wallet.FromSeed(wb.SecretKey)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt dashboard wallet: %w", err)
		}

		var ib identityBlob
		if err := blobstore.Load(cfg.Storage.IdentityPath, &ib); err != nil {
			return nil, nil, fmt.Errorf("load dashboard identity: %w", err)
		}
		return wk, ib.BirthCert, nil
	}

	wk, err := wallet.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("generate dashboard wallet: %w", err)
	}
	cert, err := identity.Build(ctx, cfg.Identity.AgentName, wk, provider, cfg.Identity.DockerImage, cfg.Identity.ManifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("build dashboard birth certificate: %w", err)
	}

	if err := blobstore.Save(cfg.Storage.WalletPath, walletBlob{SecretKey: wk.Seed()}); err != nil {
		return nil, nil, fmt.Errorf("persist dashboard wallet: %w", err)
	}
	if err := blobstore.Save(cfg.Storage.IdentityPath, identityBlob{BirthCert: cert}); err != nil {
		return nil, nil, fmt.Errorf("persist dashboard identity: %w", err)
	}
	return wk, cert, nil
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadCoordinator()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── TEE provider ──────────────────────────────────────────────────────────
	var teeProvider tee.Provider
	switch cfg.TEE.Provider {
	case "secretvm":
		teeProvider = tee.NewHardware(cfg.TEE.AttestationURL, cfg.TEE.SigningURL, cfg.TEE.PubkeyPEMPath, &http.Client{Timeout: 10 * time.Second})
	default:
		teeProvider = tee.NewMock(cfg.Identity.AgentName)
	}

	// ── Own identity + treasury signer ───────────────────────────────────────
	// The Coordinator's identity and its treasury are the same wallet (spec
	// §3 "Ownership"): the birth certificate it hands out at /api/birth-cert
	// binds the TEE key to the address it pays agents from.
	treasuryKey, ownCert, err := bootIdentity(ctx, cfg, teeProvider)
	if err != nil {
		log.Fatal("coordinator identity boot failed", zap.Error(err))
	}
	treasurySigner := &solanarpc.Signer{Address: treasuryKey.Address(), Sign: treasuryKey.Sign}

	mockLedger := solanarpc.NewMock()
	mockLedger.Fund(treasuryKey.Address(), x402.USDCMint, 1_000_000_000)
	mockLedger.FundSOL(treasuryKey.Address(), 1_000_000_000)

	var solana solanarpc.Client = mockLedger
	if cfg.Chain.RPCURL != "" {
		solana = solanarpc.NewHTTPClient(cfg.Chain.RPCURL, mockLedger)
	}

	// ── Allowlist ─────────────────────────────────────────────────────────────
	var allow *attestation.Allowlist
	switch cfg.Attest.Mode {
	case "explicit":
		allow = attestation.NewExplicit(cfg.Attest.Allowlist)
	case "tofu":
		allow = attestation.NewTOFU()
	default:
		allow = attestation.NewOpen()
	}

	// ── Collaborators ─────────────────────────────────────────────────────────
	pool := coordinator.NewPool(rdb)
	bus := coordinator.NewEventBus(rdb, log)
	gameLog := coordinator.NewGameLog()
	dispatchIssuer := svcauth.NewIssuer(cfg.Dispatch.Secret)

	register := &coordinator.RegistrationHandler{
		Pool:      pool,
		Verifier:  attestation.NewVerifier(nil),
		Allowlist: allow,
		Funder:    coordinator.NewSolanaFunder(solana, treasurySigner, x402.USDCMint),
		Bus:       bus,
		Log:       log,
		MockMode:  cfg.Chain.RPCURL == "",
	}
	topup := &coordinator.TopupHandler{
		Pool:     pool,
		Funder:   coordinator.NewSolanaGasFunder(solana, treasurySigner, 10_000_000),
		Cooldown: time.Duration(cfg.Match.TopupCooldownSec) * time.Second,
		Log:      log,
	}
	donation := &coordinator.DonationHandler{Pool: pool, Bus: bus}
	agentMsg := &coordinator.AgentMessageHandler{Pool: pool, Bus: bus}

	matcher := coordinator.NewMatcher(pool, bus, coordinator.MockVMInventory{}, dispatchIssuer, gameLog, log,
		cfg.Match.MaxActive, cfg.Match.MinStakeUnits, cfg.Match.StakeUnits)
	go matcher.Run(ctx, time.Duration(cfg.Match.IntervalMS)*time.Millisecond)

	server := &coordinator.Server{
		Pool:     pool,
		Bus:      bus,
		GameLog:  gameLog,
		Register: register,
		Topup:    topup,
		Donation: donation,
		AgentMsg: agentMsg,
		OwnCert:  ownCert,
		OwnRTMR3: func() (string, error) { return teeProvider.GetCodeMeasurement(ctx) },
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	server.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("coordinator HTTP server starting", zap.Int("port", cfg.Server.Port))
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

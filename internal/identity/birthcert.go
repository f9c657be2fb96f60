// Package identity assembles and persists an agent's Birth Certificate: the
// cryptographic identity record chaining hardware attestation to a wallet
// keypair (spec §3, §4.2, component C2).
package identity

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/proofofflip/proofofflip/internal/tee"
	"github.com/proofofflip/proofofflip/internal/wallet"
)

// BirthCertificate is immutable after creation (spec §3).
type BirthCertificate struct {
	AgentName        string `json:"agentName"`
	WalletAddress    string `json:"walletAddress"`
	DockerImage      string `json:"dockerImage"`
	CodeHash         string `json:"codeHash"`
	RTMR3            string `json:"rtmr3"`
	Timestamp        int64  `json:"timestamp"`
	TeePubkey        string `json:"teePubkey"`
	AttestationQuote string `json:"attestationQuote"`
	TeeSignature     string `json:"teeSignature"`
	WalletSignature  string `json:"walletSignature"`
}

// CanonicalMessage builds the exact byte sequence both signatures cover
// (spec §3 "Canonical signing message").
func CanonicalMessage(agentName, walletAddress, dockerImage, codeHash, rtmr3 string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%s:%d", agentName, walletAddress, dockerImage, codeHash, rtmr3, timestamp))
}

// Message returns the canonical signing message for this certificate.
func (b *BirthCertificate) Message() []byte {
	return CanonicalMessage(b.AgentName, b.WalletAddress, b.DockerImage, b.CodeHash, b.RTMR3, b.Timestamp)
}

// Build assembles a complete BirthCertificate satisfying BC-1..BC-4. All
// steps must succeed or the operation fails (spec §4.2 "Procedure").
func Build(ctx context.Context, agentName string, wk *wallet.KeyPair, provider tee.Provider, dockerImage, manifestPath string) (*BirthCertificate, error) {
	rtmr3, err := provider.GetCodeMeasurement(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: get code measurement: %w", err)
	}
	teePubkey, err := provider.GetTeePublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: get tee pubkey: %w", err)
	}
	quote, err := provider.GetAttestationQuote(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: get attestation quote: %w", err)
	}

	codeHash, err := HashManifest(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("identity: hash manifest: %w", err)
	}

	walletAddr := wk.Address()
	timestamp := time.Now().UnixMilli()
	msg := CanonicalMessage(agentName, walletAddr, dockerImage, codeHash, rtmr3, timestamp)

	teeSigB64, err := provider.SignWithTeeKey(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("identity: tee sign: %w", err)
	}
	walletSig := wk.Sign(msg)

	return &BirthCertificate{
		AgentName:        agentName,
		WalletAddress:    walletAddr,
		DockerImage:      dockerImage,
		CodeHash:         codeHash,
		RTMR3:            rtmr3,
		Timestamp:        timestamp,
		TeePubkey:        teePubkey,
		AttestationQuote: quote,
		TeeSignature:     teeSigB64,
		WalletSignature:  base64.StdEncoding.EncodeToString(walletSig),
	}, nil
}

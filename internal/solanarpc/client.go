// Package solanarpc is a narrow client for the Solana JSON-RPC surface the
// system needs: balance lookups and SPL token transfers at "confirmed"
// commitment (spec §1 "External collaborators" and §6 "Constants"). No
// Solana SDK appears anywhere in the retrieved example pack, so this talks
// JSON-RPC over plain net/http rather than vendoring or fabricating one.
package solanarpc

import (
	"context"
)

// Client is implemented by both the real JSON-RPC client and the in-memory
// mock used for local runs and tests. The Agent's pay-winner path and the
// Coordinator's funding and top-up paths depend only on this interface (spec
// §1: "accessed only through narrow interfaces"). The donation watcher's
// RecentIncomingTransfers is not part of it.
type Client interface {
	// GetSOLBalance returns the lamport balance of address.
	GetSOLBalance(ctx context.Context, address string) (uint64, error)

	// GetTokenBalance returns the base-unit balance of mint held in the
	// associated token account owned by address. Returns 0, nil if the ATA
	// does not exist yet.
	GetTokenBalance(ctx context.Context, address, mint string) (int64, error)

	// EnsureAssociatedTokenAccount creates the ATA for (owner, mint) if it
	// does not already exist, paid for by payer. Returns the ATA address.
	EnsureAssociatedTokenAccount(ctx context.Context, payer *Signer, owner, mint string) (string, error)

	// TransferToken sends amount base units of mint from payer's ATA to
	// recipient's ATA, confirms at "confirmed" commitment, and returns the
	// transaction signature.
	TransferToken(ctx context.Context, payer *Signer, recipient, mint string, amount int64) (string, error)

	// TransferSOL sends amount lamports of native SOL from payer to
	// recipient, used only for gas top-ups (spec §4.4 "Gas top-up").
	TransferSOL(ctx context.Context, payer *Signer, recipient string, lamports uint64) (string, error)

	// ConfirmTransaction blocks until sig reaches "confirmed" commitment or
	// ctx is done.
	ConfirmTransaction(ctx context.Context, sig string) error
}

// Signer is the minimal signing capability the RPC client needs from a
// wallet keypair, kept separate from internal/wallet.KeyPair so this package
// has no dependency on it.
type Signer struct {
	Address string
	Sign    func(msg []byte) []byte
}

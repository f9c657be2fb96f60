package solanarpc

import (
	"context"
	"testing"
)

func TestMock_TransferToken_MovesBalance(t *testing.T) {
	m := NewMock()
	m.Fund("alice", "usdc-mint", 100_000)
	ctx := context.Background()
	payer := &Signer{Address: "alice", Sign: func(b []byte) []byte { return b }}

	sig, err := m.TransferToken(ctx, payer, "bob", "usdc-mint", 10_000)
	if err != nil {
		t.Fatalf("TransferToken: %v", err)
	}
	if sig == "" {
		t.Fatalf("expected non-empty signature")
	}

	aliceBal, _ := m.GetTokenBalance(ctx, "alice", "usdc-mint")
	bobBal, _ := m.GetTokenBalance(ctx, "bob", "usdc-mint")
	if aliceBal != 90_000 {
		t.Errorf("expected alice balance 90000, got %d", aliceBal)
	}
	if bobBal != 10_000 {
		t.Errorf("expected bob balance 10000, got %d", bobBal)
	}
}

func TestMock_TransferToken_InsufficientBalance(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	payer := &Signer{Address: "alice", Sign: func(b []byte) []byte { return b }}

	if _, err := m.TransferToken(ctx, payer, "bob", "usdc-mint", 1); err == nil {
		t.Fatalf("expected insufficient-balance error")
	}
}

func TestMock_TransferSOL_MovesBalance(t *testing.T) {
	m := NewMock()
	m.FundSOL("treasury", 10_000_000)
	ctx := context.Background()
	payer := &Signer{Address: "treasury", Sign: func(b []byte) []byte { return b }}

	if _, err := m.TransferSOL(ctx, payer, "alice", 5_000_000); err != nil {
		t.Fatalf("TransferSOL: %v", err)
	}

	treasuryBal, _ := m.GetSOLBalance(ctx, "treasury")
	aliceBal, _ := m.GetSOLBalance(ctx, "alice")
	if treasuryBal != 5_000_000 {
		t.Errorf("expected treasury balance 5000000, got %d", treasuryBal)
	}
	if aliceBal != 5_000_000 {
		t.Errorf("expected alice balance 5000000, got %d", aliceBal)
	}
}

func TestMock_EnsureAssociatedTokenAccount_Idempotent(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	payer := &Signer{Address: "treasury", Sign: func(b []byte) []byte { return b }}

	ata1, err := m.EnsureAssociatedTokenAccount(ctx, payer, "alice", "usdc-mint")
	if err != nil {
		t.Fatalf("EnsureAssociatedTokenAccount: %v", err)
	}
	m.Fund("alice", "usdc-mint", 1_000)

	ata2, err := m.EnsureAssociatedTokenAccount(ctx, payer, "alice", "usdc-mint")
	if err != nil {
		t.Fatalf("EnsureAssociatedTokenAccount (second call): %v", err)
	}
	if ata1 != ata2 {
		t.Errorf("expected stable ATA address across calls, got %q then %q", ata1, ata2)
	}

	bal, _ := m.GetTokenBalance(ctx, "alice", "usdc-mint")
	if bal != 1_000 {
		t.Errorf("expected balance preserved across idempotent ensure-call, got %d", bal)
	}
}

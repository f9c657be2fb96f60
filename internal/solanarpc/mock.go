package solanarpc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// Mock is an in-memory Client for local runs and tests: balances live in a
// map, transfers are instant and always confirm (spec §6 allows a
// "local/test mode" that skips real settlement).
type Mock struct {
	mu        sync.Mutex
	sol       map[string]uint64
	balances  map[string]int64 // "owner:mint" -> amount
	seq       int
	transfers []mockTransfer
}

type mockTransfer struct {
	signature string
	from      string
	to        string
	mint      string
	amount    int64
}

func NewMock() *Mock {
	return &Mock{
		sol:      make(map[string]uint64),
		balances: make(map[string]int64),
	}
}

// Fund seeds address's token balance, used by tests to set up initial state.
func (m *Mock) Fund(address, mint string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key(address, mint)] += amount
}

// FundSOL seeds address's native balance, used by tests.
func (m *Mock) FundSOL(address string, lamports uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sol[address] += lamports
}

func key(address, mint string) string {
	return address + ":" + mint
}

func (m *Mock) GetSOLBalance(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sol[address], nil
}

func (m *Mock) GetTokenBalance(ctx context.Context, address, mint string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[key(address, mint)], nil
}

func (m *Mock) EnsureAssociatedTokenAccount(ctx context.Context, payer *Signer, owner, mint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[key(owner, mint)]; !ok {
		m.balances[key(owner, mint)] = 0
	}
	n := len(owner)
	if n > 8 {
		n = 8
	}
	return "mock-ata-" + owner[:n], nil
}

func (m *Mock) TransferToken(ctx context.Context, payer *Signer, recipient, mint string, amount int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := key(payer.Address, mint)
	to := key(recipient, mint)
	if m.balances[from] < amount {
		return "", fmt.Errorf("solanarpc mock: insufficient balance: have %d, need %d", m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount

	m.seq++
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d", payer.Address, recipient, amount, m.seq)))
	sig := "mock-" + hex.EncodeToString(h[:16])
	m.transfers = append(m.transfers, mockTransfer{signature: sig, from: payer.Address, to: recipient, mint: mint, amount: amount})
	return sig, nil
}

func (m *Mock) TransferSOL(ctx context.Context, payer *Signer, recipient string, lamports uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sol[payer.Address] < lamports {
		return "", fmt.Errorf("solanarpc mock: insufficient sol balance: have %d, need %d", m.sol[payer.Address], lamports)
	}
	m.sol[payer.Address] -= lamports
	m.sol[recipient] += lamports

	m.seq++
	h := sha256.Sum256([]byte(fmt.Sprintf("sol:%s:%s:%d:%d", payer.Address, recipient, lamports, m.seq)))
	return "mock-" + hex.EncodeToString(h[:16]), nil
}

func (m *Mock) ConfirmTransaction(ctx context.Context, sig string) error {
	return nil
}

// RecentIncomingTransfers mirrors HTTPClient.RecentIncomingTransfers against
// the in-memory ledger, so the donation watcher (internal/agentrt/donation.go)
// has something to poll in mock/local mode too.
func (m *Mock) RecentIncomingTransfers(ctx context.Context, address, mint string) ([]IncomingTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []IncomingTransfer
	for i := len(m.transfers) - 1; i >= 0; i-- {
		t := m.transfers[i]
		if t.to != address || t.mint != mint {
			continue
		}
		out = append(out, IncomingTransfer{Signature: t.signature, FromOwner: t.from, Amount: t.amount})
	}
	return out, nil
}

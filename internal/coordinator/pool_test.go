package coordinator

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPool_InsertRejectsDuplicateWallet(t *testing.T) {
	p := NewPool(newTestRedis(t))
	a := &Agent{AgentName: "alice", WalletAddress: "wallet-1", Status: StatusActive}
	if err := p.Insert(a); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := p.Insert(&Agent{AgentName: "eve", WalletAddress: "wallet-1"}); err == nil {
		t.Fatalf("expected duplicate wallet to be rejected")
	}
}

func TestPool_FundedWalletsMonotonic(t *testing.T) {
	p := NewPool(newTestRedis(t))
	ctx := context.Background()

	funded, err := p.IsFunded(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("IsFunded: %v", err)
	}
	if funded {
		t.Fatalf("expected wallet-1 not funded initially")
	}

	if err := p.MarkFunded(ctx, "wallet-1"); err != nil {
		t.Fatalf("MarkFunded: %v", err)
	}
	funded, err = p.IsFunded(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("IsFunded after mark: %v", err)
	}
	if !funded {
		t.Fatalf("expected wallet-1 funded after MarkFunded")
	}
}

func TestPool_Rerank(t *testing.T) {
	p := NewPool(newTestRedis(t))
	p.Insert(&Agent{AgentName: "a", WalletAddress: "w-a", BalanceUnits: 100_000, Status: StatusBenched})
	p.Insert(&Agent{AgentName: "b", WalletAddress: "w-b", BalanceUnits: 50_000, Status: StatusBenched})
	p.Insert(&Agent{AgentName: "c", WalletAddress: "w-c", BalanceUnits: 5_000, Status: StatusBenched})

	promoted, _ := p.Rerank(2, 10_000)
	if len(promoted) != 2 {
		t.Fatalf("expected 2 promotions, got %d", len(promoted))
	}

	agentC, _ := p.Get("w-c")
	if agentC.Status != StatusBroke {
		t.Errorf("expected agent c broke (below min stake), got %s", agentC.Status)
	}
	agentA, _ := p.Get("w-a")
	if agentA.Status != StatusActive {
		t.Errorf("expected agent a active, got %s", agentA.Status)
	}
}

func TestPool_RerankExcludesOfflineAndDeleted(t *testing.T) {
	p := NewPool(newTestRedis(t))
	p.Insert(&Agent{AgentName: "a", WalletAddress: "w-a", BalanceUnits: 100_000, Status: StatusOffline})
	p.Insert(&Agent{AgentName: "b", WalletAddress: "w-b", BalanceUnits: 50_000, Status: StatusDeleted})
	p.Insert(&Agent{AgentName: "c", WalletAddress: "w-c", BalanceUnits: 20_000, Status: StatusBenched})

	promoted, _ := p.Rerank(5, 10_000)
	if len(promoted) != 1 || promoted[0].AgentName != "c" {
		t.Fatalf("expected only agent c promoted, got %+v", promoted)
	}

	agentA, _ := p.Get("w-a")
	if agentA.Status != StatusOffline {
		t.Errorf("expected offline agent to stay offline, got %s", agentA.Status)
	}
}

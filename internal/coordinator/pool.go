package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

const fundedWalletsKey = "proofofflip:funded_wallets"

// Pool is the Coordinator's authoritative in-memory agent map, keyed by
// wallet address (spec §9: "Implement the pool as a map keyed by wallet
// address"), protected by a single coarse mutex (spec §5).
type Pool struct {
	mu     sync.Mutex
	agents map[string]*Agent

	rdb *redis.Client
}

func NewPool(rdb *redis.Client) *Pool {
	return &Pool{agents: make(map[string]*Agent), rdb: rdb}
}

// Insert admits a new agent under its wallet address. Returns an error if
// the wallet is already present (spec §4.5 registration step 5).
func (p *Pool) Insert(a *Agent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.agents[a.WalletAddress]; exists {
		return fmt.Errorf("agent with wallet %s already registered", a.WalletAddress)
	}
	p.agents[a.WalletAddress] = a
	return nil
}

func (p *Pool) Get(wallet string) (*Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[wallet]
	return a, ok
}

func (p *Pool) Exists(wallet string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.agents[wallet]
	return ok
}

// Snapshot returns a stable copy of the current agent list for read
// endpoints and for the match loop's pair selection.
func (p *Pool) Snapshot() []*Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// Mutate runs fn under the pool lock, looking up the agent by wallet first.
// Returns false if the wallet is not present.
func (p *Pool) Mutate(wallet string, fn func(*Agent)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[wallet]
	if !ok {
		return false
	}
	fn(a)
	return true
}

// Rerank applies spec §4.5 "Re-rank" step: sort non-offline/non-deleted
// agents by descending balance, top maxActive with balance >= minStake
// become active, the rest above minStake become benched, below becomes
// broke. Returns the agents that were promoted and demoted this call.
func (p *Pool) Rerank(maxActive int, minStakeUnits int64) (promoted, demoted []*Agent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var eligible []*Agent
	for _, a := range p.agents {
		if a.Status == StatusOffline || a.Status == StatusDeleted {
			continue
		}
		eligible = append(eligible, a)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].BalanceUnits > eligible[j].BalanceUnits })

	for i, a := range eligible {
		prev := a.Status
		switch {
		case i < maxActive && a.BalanceUnits >= minStakeUnits:
			a.Status = StatusActive
		case a.BalanceUnits >= minStakeUnits:
			a.Status = StatusBenched
		default:
			a.Status = StatusBroke
		}
		if prev != a.Status {
			cp := *a
			if a.Status == StatusActive {
				promoted = append(promoted, &cp)
			} else if prev == StatusActive {
				demoted = append(demoted, &cp)
			}
		}
	}
	return promoted, demoted
}

// ActiveWallets returns the wallet addresses currently marked active, a
// stable snapshot for pair selection.
func (p *Pool) ActiveWallets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for wallet, a := range p.agents {
		if a.Status == StatusActive {
			out = append(out, wallet)
		}
	}
	return out
}

// IsFunded reports whether wallet already received its initial funding
// transfer (spec §3 "FundedWallets").
func (p *Pool) IsFunded(ctx context.Context, wallet string) (bool, error) {
	return p.rdb.SIsMember(ctx, fundedWalletsKey, wallet).Result()
}

// MarkFunded records wallet as funded. FundedWallets is monotonically
// growing (spec §8): this is the only mutation it ever receives.
func (p *Pool) MarkFunded(ctx context.Context, wallet string) error {
	return p.rdb.SAdd(ctx, fundedWalletsKey, wallet).Err()
}

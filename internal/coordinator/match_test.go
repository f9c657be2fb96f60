package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/proofofflip/proofofflip/internal/svcauth"
)

// playStubServer simulates an agent's /play endpoint for match-loop tests.
func playStubServer(t *testing.T, healthOK bool, playStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthOK {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/play", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(playStatus)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return httptest.NewServer(mux)
}

func newTestMatcher(t *testing.T) (*Matcher, *Pool) {
	t.Helper()
	pool := NewPool(newTestRedis(t))
	bus := NewEventBus(newTestRedis(t), zap.NewNop())
	gameLog := NewGameLog()
	dispatch := svcauth.NewIssuer("test-secret")
	m := NewMatcher(pool, bus, MockVMInventory{}, dispatch, gameLog, zap.NewNop(), 8, 10_000, 10_000)
	return m, pool
}

func TestMatcher_HappyMatch(t *testing.T) {
	aliceSrv := playStubServer(t, true, http.StatusOK)
	defer aliceSrv.Close()
	bobSrv := playStubServer(t, true, http.StatusOK)
	defer bobSrv.Close()

	m, pool := newTestMatcher(t)
	pool.Insert(&Agent{AgentName: "alice", WalletAddress: "alice-wallet", Endpoint: aliceSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})
	pool.Insert(&Agent{AgentName: "bob", WalletAddress: "bob-wallet", Endpoint: bobSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})

	m.Tick(context.Background())

	if m.GameLog.Count() != 1 {
		t.Fatalf("expected 1 recorded game, got %d", m.GameLog.Count())
	}
	result := m.GameLog.Snapshot()[0]

	winner, _ := pool.Get(result.WinnerWallet)
	loser, _ := pool.Get(result.LoserWallet)
	if winner.BalanceUnits != 1_010_000 {
		t.Errorf("expected winner balance 1010000, got %d", winner.BalanceUnits)
	}
	if loser.BalanceUnits != 990_000 {
		t.Errorf("expected loser balance 990000, got %d", loser.BalanceUnits)
	}
	if winner.Wins != 1 || loser.Losses != 1 {
		t.Errorf("expected winner.Wins=1 loser.Losses=1, got %d/%d", winner.Wins, loser.Losses)
	}
}

func TestMatcher_DeadWinner_NoResultRecorded(t *testing.T) {
	// Alice's /play never responds in time budget: simulate by returning a
	// non-200 status, which the matcher treats as a dispatch failure.
	aliceSrv := playStubServer(t, true, http.StatusServiceUnavailable)
	defer aliceSrv.Close()
	bobSrv := playStubServer(t, true, http.StatusOK)
	defer bobSrv.Close()

	// The coin flip is random, so start over on a fresh pool until alice
	// draws the winner role. When bob wins instead, the game is recorded
	// (alice fails only as the loser), so a tick with no recorded game is
	// the one where alice won the flip and her dispatch aborted the match.
	var pool *Pool
	for i := 0; i < 20; i++ {
		var m *Matcher
		m, pool = newTestMatcher(t)
		pool.Insert(&Agent{AgentName: "alice", WalletAddress: "alice-wallet", Endpoint: aliceSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})
		pool.Insert(&Agent{AgentName: "bob", WalletAddress: "bob-wallet", Endpoint: bobSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})
		m.Tick(context.Background())
		if m.GameLog.Count() == 0 {
			break
		}
	}

	bob, _ := pool.Get("bob-wallet")
	if bob.BalanceUnits != 1_000_000 {
		t.Errorf("expected bob's balance unchanged on aborted match, got %d", bob.BalanceUnits)
	}
}

func TestMatcher_LivenessFailure_MarksOffline(t *testing.T) {
	aliceSrv := playStubServer(t, false, http.StatusOK) // fails /health
	defer aliceSrv.Close()
	bobSrv := playStubServer(t, true, http.StatusOK)
	defer bobSrv.Close()

	m, pool := newTestMatcher(t)
	pool.Insert(&Agent{AgentName: "alice", WalletAddress: "alice-wallet", Endpoint: aliceSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})
	pool.Insert(&Agent{AgentName: "bob", WalletAddress: "bob-wallet", Endpoint: bobSrv.URL, BalanceUnits: 1_000_000, Status: StatusActive})

	m.Tick(context.Background())

	alice, _ := pool.Get("alice-wallet")
	if alice.Status != StatusOffline {
		t.Errorf("expected alice offline after failed liveness probe, got %s", alice.Status)
	}
	if m.GameLog.Count() != 0 {
		t.Errorf("expected no game recorded on liveness failure, got %d", m.GameLog.Count())
	}
}

func TestCoinFlip_SelectsEachSideOverManyTrials(t *testing.T) {
	seenA, seenB := 0, 0
	for i := 0; i < 200; i++ {
		winner, _, err := coinFlip("A", "B")
		if err != nil {
			t.Fatalf("coinFlip: %v", err)
		}
		if winner == "A" {
			seenA++
		} else {
			seenB++
		}
	}
	if seenA == 0 || seenB == 0 {
		t.Fatalf("expected both sides to win at least once across 200 trials, got A=%d B=%d", seenA, seenB)
	}
}

// Package coordinator is the Coordinator & Registry (spec §4.5, component
// C5): registers agents, funds them, ranks and matches them, runs the match
// protocol, and fans events out over SSE.
package coordinator

import (
	"time"

	"github.com/proofofflip/proofofflip/internal/identity"
)

// Status is an Agent's lifecycle state (spec §3 "Lifecycle transitions").
type Status string

const (
	StatusActive  Status = "active"
	StatusBenched Status = "benched"
	StatusBroke   Status = "broke"
	StatusOffline Status = "offline"
	StatusDeleted Status = "deleted"
)

// Agent is the Coordinator's mutable record of one registered agent (spec §3).
type Agent struct {
	// identity
	AgentName    string
	WalletAddress string
	Endpoint     string
	BirthCert    *identity.BirthCertificate
	RegisteredAt time.Time

	// economics, in base units (6 decimals)
	BalanceUnits   int64
	Wins           int
	Losses         int
	CurrentStreak  int // >0 winning streak, <0 losing streak
	LongestStreak  int
	TotalDonations float64

	// lifecycle
	Status Status

	LastTopupAt time.Time
}

// GameResult is an append-only log entry for a settled match (spec §3).
type GameResult struct {
	GameID        string    `json:"gameId"`
	Winner        string    `json:"winner"`
	Loser         string    `json:"loser"`
	WinnerWallet  string    `json:"winnerWallet"`
	LoserWallet   string    `json:"loserWallet"`
	StakeAmount   int64     `json:"stakeAmount"`
	TxSignature   string    `json:"txSignature,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Event is one frame of the SSE bus (spec §4.5 "Event bus (SSE)").
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Package x402 defines the wire types of the HTTP 402 payment handshake
// (spec §6 "x402 handshake (HTTP)").
package x402

// Requirements is the body of the initial 402 response from GET /collect.
type Requirements struct {
	Type        string `json:"type"`    // "x402"
	Version     string `json:"version"` // "1"
	Address     string `json:"address"` // base58 recipient wallet
	Token       string `json:"token"`   // SPL mint address
	Amount      int64  `json:"amount"`  // base units, integer
	Network     string `json:"network"` // "solana-mainnet"
	Description string `json:"description"`
}

// Proof is the JSON payload carried in the X-Payment header on retry.
type Proof struct {
	TxSignature string `json:"txSignature"`
	Amount      int64  `json:"amount"`
	Payer       string `json:"payer"`
}

// CollectedResponse is the 200 response once a payment proof is accepted.
type CollectedResponse struct {
	Status      string `json:"status"` // "collected"
	Agent       string `json:"agent"`
	TxSignature string `json:"txSignature"`
}

// USDCMint is the authoritative mainnet USDC mint address (spec §6).
const USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// Stake and funding constants (spec §6 "Constants").
const (
	StakeBaseUnits          = 10_000   // 0.01 stablecoin, 6 decimals
	InitialFundingBaseUnits = 1_000_000 // 1.0 stablecoin
)

package solanarpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient talks plain JSON-RPC to a Solana cluster endpoint. Transaction
// construction (associated-token-account derivation, SPL transfer
// instruction encoding) is out of scope for this exercise's retrieved pack —
// callers that need real on-chain transfers supply a pre-built Submitter;
// HTTPClient itself implements the read side (balances, confirmation
// polling) plus thin wrappers that shell out to Submitter for writes.
type HTTPClient struct {
	URL       string
	Client    *http.Client
	Submitter Submitter
}

// Submitter builds and submits the raw transactions HTTPClient cannot
// construct itself (ATA creation, SPL transfers). Supplying one lets a
// deployment plug in whatever transaction-building approach it has without
// this package depending on a Solana SDK.
type Submitter interface {
	EnsureAssociatedTokenAccount(ctx context.Context, payer *Signer, owner, mint string) (string, error)
	TransferToken(ctx context.Context, payer *Signer, recipient, mint string, amount int64) (string, error)
	TransferSOL(ctx context.Context, payer *Signer, recipient string, lamports uint64) (string, error)
}

// NewHTTPClient builds a client against a Solana RPC endpoint (spec §6:
// mainnet RPC URL is an external collaborator, not bundled).
func NewHTTPClient(url string, submitter Submitter) *HTTPClient {
	return &HTTPClient{
		URL:       url,
		Client:    &http.Client{Timeout: 15 * time.Second},
		Submitter: submitter,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solanarpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solanarpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("solanarpc: %s: %w", method, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("solanarpc: %s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("solanarpc: %s: rpc error %d: %s", method, rr.Error.Code, rr.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("solanarpc: %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

func (c *HTTPClient) GetSOLBalance(ctx context.Context, address string) (uint64, error) {
	var out balanceResult
	if err := c.call(ctx, "getBalance", []any{address}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

type tokenAccountsResult struct {
	Value []struct {
		Account struct {
			Data struct {
				Parsed struct {
					Info struct {
						TokenAmount struct {
							Amount string `json:"amount"`
						} `json:"tokenAmount"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"account"`
	} `json:"value"`
}

func (c *HTTPClient) GetTokenBalance(ctx context.Context, address, mint string) (int64, error) {
	var out tokenAccountsResult
	params := []any{
		address,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &out); err != nil {
		return 0, err
	}
	if len(out.Value) == 0 {
		return 0, nil
	}
	var amount int64
	if _, err := fmt.Sscanf(out.Value[0].Account.Data.Parsed.Info.TokenAmount.Amount, "%d", &amount); err != nil {
		return 0, fmt.Errorf("solanarpc: parse token amount: %w", err)
	}
	return amount, nil
}

func (c *HTTPClient) EnsureAssociatedTokenAccount(ctx context.Context, payer *Signer, owner, mint string) (string, error) {
	if c.Submitter == nil {
		return "", fmt.Errorf("solanarpc: no submitter configured for write operations")
	}
	return c.Submitter.EnsureAssociatedTokenAccount(ctx, payer, owner, mint)
}

func (c *HTTPClient) TransferToken(ctx context.Context, payer *Signer, recipient, mint string, amount int64) (string, error) {
	if c.Submitter == nil {
		return "", fmt.Errorf("solanarpc: no submitter configured for write operations")
	}
	sig, err := c.Submitter.TransferToken(ctx, payer, recipient, mint, amount)
	if err != nil {
		return "", err
	}
	if err := c.ConfirmTransaction(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *HTTPClient) TransferSOL(ctx context.Context, payer *Signer, recipient string, lamports uint64) (string, error) {
	if c.Submitter == nil {
		return "", fmt.Errorf("solanarpc: no submitter configured for write operations")
	}
	sig, err := c.Submitter.TransferSOL(ctx, payer, recipient, lamports)
	if err != nil {
		return "", err
	}
	if err := c.ConfirmTransaction(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// IncomingTransfer is one parsed SPL transfer into an address, used by the
// donation watcher to tell settled game payments from unsolicited sends.
type IncomingTransfer struct {
	Signature string
	FromOwner string
	Amount    int64
}

type signatureInfo struct {
	Signature string `json:"signature"`
}

type parsedTxResult struct {
	Meta struct {
		PreTokenBalances  []tokenBalanceEntry `json:"preTokenBalances"`
		PostTokenBalances []tokenBalanceEntry `json:"postTokenBalances"`
	} `json:"meta"`
}

type tokenBalanceEntry struct {
	Owner    string `json:"owner"`
	Mint     string `json:"mint"`
	UiTokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// RecentIncomingTransfers scans the last 50 signatures for address and
// returns the ones that increased address's balance of mint, by diffing
// pre/post token balances (spec §4.5 "Donation ingestion" needs a read-only
// view of incoming transfers, not a full indexer).
func (c *HTTPClient) RecentIncomingTransfers(ctx context.Context, address, mint string) ([]IncomingTransfer, error) {
	var sigs []signatureInfo
	params := []any{address, map[string]any{"limit": 50}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &sigs); err != nil {
		return nil, fmt.Errorf("solanarpc: list signatures: %w", err)
	}

	var out []IncomingTransfer
	for _, s := range sigs {
		var tx parsedTxResult
		txParams := []any{s.Signature, map[string]string{"encoding": "jsonParsed"}}
		if err := c.call(ctx, "getTransaction", txParams, &tx); err != nil {
			continue
		}
		pre := tokenAmountFor(tx.Meta.PreTokenBalances, address, mint)
		post := tokenAmountFor(tx.Meta.PostTokenBalances, address, mint)
		if post <= pre {
			continue
		}
		out = append(out, IncomingTransfer{
			Signature: s.Signature,
			FromOwner: senderOwner(tx.Meta.PreTokenBalances, tx.Meta.PostTokenBalances, mint, address),
			Amount:    post - pre,
		})
	}
	return out, nil
}

// senderOwner finds the other party in the same mint whose balance dropped,
// on the assumption a donation is a single simple transfer.
func senderOwner(pre, post []tokenBalanceEntry, mint, receiver string) string {
	for _, p := range pre {
		if p.Mint != mint || p.Owner == receiver {
			continue
		}
		preAmt := tokenAmountFor(pre, p.Owner, mint)
		postAmt := tokenAmountFor(post, p.Owner, mint)
		if postAmt < preAmt {
			return p.Owner
		}
	}
	return ""
}

func tokenAmountFor(entries []tokenBalanceEntry, owner, mint string) int64 {
	for _, e := range entries {
		if e.Owner != owner || e.Mint != mint {
			continue
		}
		var amt int64
		fmt.Sscanf(e.UiTokenAmount.Amount, "%d", &amt) //nolint:errcheck
		return amt
	}
	return 0
}

type signatureStatusResult struct {
	Value []*struct {
		ConfirmationStatus string `json:"confirmationStatus"`
		Err                 any    `json:"err"`
	} `json:"value"`
}

// ConfirmTransaction polls getSignatureStatuses until sig reaches
// "confirmed" or ctx is done (spec §6: "confirmed commitment").
func (c *HTTPClient) ConfirmTransaction(ctx context.Context, sig string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var out signatureStatusResult
		params := []any{[]string{sig}}
		if err := c.call(ctx, "getSignatureStatuses", params, &out); err != nil {
			return err
		}
		if len(out.Value) == 1 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return fmt.Errorf("solanarpc: transaction %s failed on-chain", sig)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

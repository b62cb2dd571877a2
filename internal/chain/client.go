// Package chain is a minimal Solana JSON-RPC client: the handful of verbs
// the reconciler and withdrawal processor need, plus a legacy transfer
// transaction builder. Transient transport failures surface as
// ErrRPCUnavailable so callers can back off and retry.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"QuantaCasino/internal/observability"
)

// ErrRPCUnavailable marks transport-level failures: connection errors,
// timeouts, HTTP 5xx and node-side "unhealthy" responses. Retryable.
var ErrRPCUnavailable = errors.New("chain: rpc unavailable")

// ErrNotFound is returned when a queried transaction does not exist.
var ErrNotFound = errors.New("chain: not found")

// Client talks to one Solana RPC endpoint.
type Client struct {
	url     string
	http    *http.Client
	nextID  atomic.Uint64
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewClient(url string, timeout time.Duration, metrics *observability.Metrics) *Client {
	return &Client{
		url:     url,
		http:    &http.Client{Timeout: timeout},
		log:     observability.NewLogger("chain"),
		metrics: metrics,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("chain: rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip, decoding result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain: marshal %s: %w", method, err)
	}

	start := time.Now()
	code := "ok"
	defer func() {
		if c.metrics != nil {
			c.metrics.RPCRequests.WithLabelValues(method, code).Inc()
			c.metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		code = "error"
		return fmt.Errorf("chain: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		code = "unavailable"
		return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
		return fmt.Errorf("%w: %s: http %d", ErrRPCUnavailable, method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
		return fmt.Errorf("chain: %s: http %d", method, resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		code = "decode_error"
		return fmt.Errorf("%w: %s: decode: %v", ErrRPCUnavailable, method, err)
	}
	if envelope.Error != nil {
		code = fmt.Sprintf("rpc_%d", envelope.Error.Code)
		return envelope.Error
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			code = "decode_error"
			return fmt.Errorf("chain: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// contextValue wraps the standard {context, value} result shape.
type contextValue struct {
	Value json.RawMessage `json:"value"`
}

// Balance returns the lamport balance of an address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	var res contextValue
	if err := c.call(ctx, "getBalance", []interface{}{address}, &res); err != nil {
		return 0, err
	}
	var lamports uint64
	if err := json.Unmarshal(res.Value, &lamports); err != nil {
		return 0, fmt.Errorf("chain: decode balance: %w", err)
	}
	return lamports, nil
}

// Blockhash is a recent blockhash and its expiry height.
type Blockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// LatestBlockhash fetches a finalized recent blockhash for signing.
func (c *Client) LatestBlockhash(ctx context.Context) (*Blockhash, error) {
	var res contextValue
	params := []interface{}{map[string]string{"commitment": "finalized"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &res); err != nil {
		return nil, err
	}
	var bh Blockhash
	if err := json.Unmarshal(res.Value, &bh); err != nil {
		return nil, fmt.Errorf("chain: decode blockhash: %w", err)
	}
	return &bh, nil
}

// FeeForMessage quotes the network fee for a base64-encoded message.
// A null quote (expired blockhash) reports ErrRPCUnavailable so the caller
// refreshes and retries.
func (c *Client) FeeForMessage(ctx context.Context, messageBase64 string) (uint64, error) {
	var res contextValue
	params := []interface{}{messageBase64, map[string]string{"commitment": "finalized"}}
	if err := c.call(ctx, "getFeeForMessage", params, &res); err != nil {
		return 0, err
	}
	var fee *uint64
	if err := json.Unmarshal(res.Value, &fee); err != nil {
		return 0, fmt.Errorf("chain: decode fee: %w", err)
	}
	if fee == nil {
		return 0, fmt.Errorf("%w: fee quote unavailable for message", ErrRPCUnavailable)
	}
	return *fee, nil
}

// SendTransaction submits a signed base64 transaction and returns its
// signature. Already-processed duplicates surface as the node's rpc error;
// the withdrawal processor treats resubmission as idempotent via
// signature-status polling, not via this call.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	params := []interface{}{txBase64, map[string]interface{}{
		"encoding":            "base64",
		"skipPreflight":       false,
		"preflightCommitment": "confirmed",
	}}
	var signature string
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// SignatureStatus is the confirmation state of one submitted signature.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// Finalized reports whether the cluster has finalized the transaction.
func (s *SignatureStatus) Finalized() bool {
	return s != nil && s.ConfirmationStatus == "finalized" && !s.Failed()
}

// Failed reports whether the transaction landed with an error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && len(s.Err) > 0 && string(s.Err) != "null"
}

// SignatureStatuses looks up submitted signatures. The result slice is
// index-aligned with sigs; unknown signatures are nil.
func (c *Client) SignatureStatuses(ctx context.Context, sigs []string) ([]*SignatureStatus, error) {
	var res contextValue
	params := []interface{}{sigs, map[string]bool{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, err
	}
	var statuses []*SignatureStatus
	if err := json.Unmarshal(res.Value, &statuses); err != nil {
		return nil, fmt.Errorf("chain: decode signature statuses: %w", err)
	}
	return statuses, nil
}

// SignatureInfo is one entry from getSignaturesForAddress, newest first.
type SignatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
}

// Failed reports whether the referenced transaction errored on chain.
func (s *SignatureInfo) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// SignaturesForAddress lists confirmed signatures touching the address,
// newest first, stopping at untilSig when non-empty. A non-empty
// beforeSig starts the page strictly after that signature, which is how
// callers walk backwards through a backlog larger than one page.
func (c *Client) SignaturesForAddress(ctx context.Context, address, beforeSig, untilSig string, limit int) ([]SignatureInfo, error) {
	opts := map[string]interface{}{
		"limit":      limit,
		"commitment": "finalized",
	}
	if beforeSig != "" {
		opts["before"] = beforeSig
	}
	if untilSig != "" {
		opts["until"] = untilSig
	}
	var infos []SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Transfer is one parsed system-program transfer inside a transaction.
type Transfer struct {
	Signature string
	Slot      uint64
	From      string
	To        string
	Lamports  int64
}

// jsonParsed transaction shapes, trimmed to what attribution needs.
type parsedTransaction struct {
	Slot        uint64 `json:"slot"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			Instructions []struct {
				Program string `json:"program"`
				Parsed  struct {
					Type string `json:"type"`
					Info struct {
						Source      string `json:"source"`
						Destination string `json:"destination"`
						Lamports    int64  `json:"lamports"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Err json.RawMessage `json:"err"`
	} `json:"meta"`
}

// TransfersIn returns the system transfers into the given address carried
// by one finalized transaction. Failed transactions yield nothing.
func (c *Client) TransfersIn(ctx context.Context, signature, address string) ([]Transfer, error) {
	params := []interface{}{signature, map[string]interface{}{
		"encoding":                       "jsonParsed",
		"commitment":                     "finalized",
		"maxSupportedTransactionVersion": 0,
	}}
	var tx *parsedTransaction
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, signature)
	}
	if len(tx.Meta.Err) > 0 && string(tx.Meta.Err) != "null" {
		return nil, nil
	}

	var out []Transfer
	for _, ins := range tx.Transaction.Message.Instructions {
		if ins.Program != "system" || ins.Parsed.Type != "transfer" {
			continue
		}
		if ins.Parsed.Info.Destination != address {
			continue
		}
		out = append(out, Transfer{
			Signature: signature,
			Slot:      tx.Slot,
			From:      ins.Parsed.Info.Source,
			To:        ins.Parsed.Info.Destination,
			Lamports:  ins.Parsed.Info.Lamports,
		})
	}
	return out, nil
}

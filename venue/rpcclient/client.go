// Package rpcclient implements the venue interface over the JSON-RPC 2.0
// endpoint exposed by the lending venue adapter.
package rpcclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"sharepool/venue"
)

// RPC error codes the venue adapter reports for domain failures.
const (
	codeInsufficientFunds = -32021
)

// Config controls how the Client connects to the venue RPC endpoint.
type Config struct {
	BaseURL            string
	BearerToken        string
	SharedSecretHeader string
	SharedSecretValue  string
	TLSClientCAFile    string
	AllowInsecure      bool
	RequestTimeout     time.Duration
}

// Client speaks the minimal subset of JSON-RPC 2.0 used by the venue adapter.
type Client struct {
	baseURL      string
	http         *http.Client
	bearer       string
	sharedHeader string
	sharedValue  string
}

var _ venue.Venue = (*Client)(nil)

// NewClient constructs a Client from the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	tlsConfig := &tls.Config{}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else {
		systemPool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("load system cert pool: %w", err)
		}
		if systemPool == nil {
			systemPool = x509.NewCertPool()
		}
		if strings.TrimSpace(cfg.TLSClientCAFile) != "" {
			pemBytes, err := os.ReadFile(cfg.TLSClientCAFile)
			if err != nil {
				return nil, fmt.Errorf("read client ca file: %w", err)
			}
			if ok := systemPool.AppendCertsFromPEM(pemBytes); !ok {
				return nil, fmt.Errorf("append client ca certificates: invalid pem data")
			}
		}
		tlsConfig.RootCAs = systemPool
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := &http.Transport{TLSClientConfig: tlsConfig}
	httpClient := &http.Client{Timeout: timeout, Transport: transport}

	return &Client{
		baseURL:      baseURL,
		http:         httpClient,
		bearer:       strings.TrimSpace(cfg.BearerToken),
		sharedHeader: strings.TrimSpace(cfg.SharedSecretHeader),
		sharedValue:  strings.TrimSpace(cfg.SharedSecretValue),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type balanceResult struct {
	Balance string `json:"balance"`
}

type transferParams struct {
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount"`
}

type withdrawResult struct {
	Released string `json:"released"`
}

// BalanceHeld implements venue.Venue.
func (c *Client) BalanceHeld(ctx context.Context) (*big.Int, error) {
	var result balanceResult
	if err := c.call(ctx, "pool_getBalanceHeld", nil, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Balance)
}

// Supply implements venue.Venue.
func (c *Client) Supply(ctx context.Context, account string, amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("supply amount required")
	}
	params := transferParams{Account: strings.TrimSpace(account), Amount: amount.String()}
	return c.call(ctx, "pool_supply", params, nil)
}

// Withdraw implements venue.Venue.
func (c *Client) Withdraw(ctx context.Context, account string, amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("withdraw amount required")
	}
	params := transferParams{Account: strings.TrimSpace(account), Amount: amount.String()}
	var result withdrawResult
	if err := c.call(ctx, "pool_withdraw", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Released)
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	reqBody := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Client", "sharepoold")
	if c.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.sharedHeader != "" && c.sharedValue != "" {
		httpReq.Header.Set(c.sharedHeader, c.sharedValue)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %s", venue.ErrUnavailable, resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", venue.ErrUnavailable, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == codeInsufficientFunds {
			return fmt.Errorf("%w: %s", venue.ErrInsufficientFunds, rpcResp.Error.Message)
		}
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("venue returned empty amount")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("venue returned invalid amount %q", raw)
	}
	return value, nil
}

package rpcclient

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"sharepool/venue"
)

type capturedRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func newVenueServer(t *testing.T, handler func(w http.ResponseWriter, req capturedRequest, raw *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler(w, req, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeResult(t *testing.T, w http.ResponseWriter, result any) {
	t.Helper()
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	_ = json.NewEncoder(w).Encode(rpcResponse{Result: payload})
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: url, BearerToken: "token-1", SharedSecretHeader: "X-Venue-Secret", SharedSecretValue: "shh"})
	require.NoError(t, err)
	return client
}

func TestBalanceHeld(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, req capturedRequest, raw *http.Request) {
		require.Equal(t, "pool_getBalanceHeld", req.Method)
		require.Equal(t, "Bearer token-1", raw.Header.Get("Authorization"))
		require.Equal(t, "shh", raw.Header.Get("X-Venue-Secret"))
		writeResult(t, w, balanceResult{Balance: "123456"})
	})

	balance, err := newTestClient(t, server.URL).BalanceHeld(context.Background())
	require.NoError(t, err)
	require.Equal(t, "123456", balance.String())
}

func TestSupplySendsAccountAndAmount(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, req capturedRequest, _ *http.Request) {
		require.Equal(t, "pool_supply", req.Method)
		var params transferParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		require.Equal(t, "alice", params.Account)
		require.Equal(t, "1000", params.Amount)
		writeResult(t, w, struct{}{})
	})

	err := newTestClient(t, server.URL).Supply(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)
}

func TestWithdrawReturnsReleasedAmount(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, req capturedRequest, _ *http.Request) {
		require.Equal(t, "pool_withdraw", req.Method)
		writeResult(t, w, withdrawResult{Released: "999"})
	})

	released, err := newTestClient(t, server.URL).Withdraw(context.Background(), "alice", big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "999", released.String())
}

func TestInsufficientFundsCodeMapsToTypedError(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, _ capturedRequest, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{
			Code: codeInsufficientFunds, Message: "spendable balance too low",
		}})
	})

	err := newTestClient(t, server.URL).Supply(context.Background(), "alice", big.NewInt(1000))
	require.ErrorIs(t, err, venue.ErrInsufficientFunds)
}

func TestTransportFailureIsRetryable(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, _ capturedRequest, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := newTestClient(t, server.URL).BalanceHeld(context.Background())
	require.ErrorIs(t, err, venue.ErrUnavailable)
}

func TestInvalidBalanceRejected(t *testing.T) {
	server := newVenueServer(t, func(w http.ResponseWriter, _ capturedRequest, _ *http.Request) {
		writeResult(t, w, balanceResult{Balance: "-5"})
	})

	_, err := newTestClient(t, server.URL).BalanceHeld(context.Background())
	require.Error(t, err)
}

package wallet_http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wallet/internal/app/transfer"
	"wallet/internal/guard"
	"wallet/internal/repository/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := memory.NewStore()
	engine := transfer.NewEngine(store, guard.NewLocal(guard.ModeBlock), transfer.DefaultConfig(), zap.NewNop())
	r := chi.NewRouter()
	RegisterRoutes(r, engine, store, Currency{Exponent: 2}, zap.NewNop())
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func openAccount(t *testing.T, h http.Handler, initial string, aliases ...string) AccountResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/accounts", OpenAccountRequest{InitialBalance: initial, Aliases: aliases})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[AccountResponse](t, rec)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenAndGetAccount(t *testing.T) {
	h := newTestRouter(t)
	acc := openAccount(t, h, "10.50")
	assert.Equal(t, int64(1050), acc.Balance)
	assert.Equal(t, "10.50", acc.BalanceDisplay)

	rec := do(t, h, http.MethodGet, "/accounts/"+acc.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, acc.ID, decodeBody[AccountResponse](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/accounts/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

func TestDepositWithdrawAndHistory(t *testing.T) {
	h := newTestRouter(t)
	acc := openAccount(t, h, "0")

	rec := do(t, h, http.MethodPost, "/accounts/"+acc.ID+"/deposits", AmountRequest{Amount: "20"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decodeBody[TransactionResponse](t, rec)
	assert.Equal(t, "deposit", dep.Kind)
	assert.Equal(t, "20.00", dep.AmountDisplay)
	assert.Equal(t, "completed", dep.Status)

	rec = do(t, h, http.MethodPost, "/accounts/"+acc.ID+"/withdrawals", AmountRequest{Amount: "5.25", Description: "atm"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/accounts/"+acc.ID, nil)
	assert.Equal(t, int64(1475), decodeBody[AccountResponse](t, rec).Balance)

	rec = do(t, h, http.MethodGet, "/accounts/"+acc.ID+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]TransactionResponse](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, "withdrawal", history[0].Kind)
	assert.Equal(t, "atm", history[0].Description)
	assert.Equal(t, "sent", history[0].Direction)
	assert.Equal(t, "received", history[1].Direction)
}

func TestTransferByAlias(t *testing.T) {
	h := newTestRouter(t)
	src := openAccount(t, h, "100")
	dst := openAccount(t, h, "0", "bob@example.com")

	rec := do(t, h, http.MethodPost, "/transfers", TransferRequest{
		SourceAccountID:  src.ID,
		DestinationAlias: "bob@example.com",
		Amount:           "30",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decodeBody[TransactionResponse](t, rec)
	assert.Equal(t, dst.ID, tx.DestinationAccountID)
	assert.Equal(t, "Money transfer", tx.Description)

	rec = do(t, h, http.MethodPost, "/transfers", TransferRequest{
		SourceAccountID:  src.ID,
		DestinationAlias: "nobody@example.com",
		Amount:           "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	h := newTestRouter(t)
	src := openAccount(t, h, "100")
	dst := openAccount(t, h, "0")
	body := TransferRequest{SourceAccountID: src.ID, DestinationAccountID: dst.ID, Amount: "10"}

	first := do(t, h, http.MethodPost, "/transfers", body, idempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(t, h, http.MethodPost, "/transfers", body, idempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, decodeBody[TransactionResponse](t, first).ID, decodeBody[TransactionResponse](t, second).ID)

	body.Amount = "11"
	rec := do(t, h, http.MethodPost, "/transfers", body, idempotencyKeyHeader, "k-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, h, http.MethodGet, "/accounts/"+src.ID, nil)
	assert.Equal(t, int64(9000), decodeBody[AccountResponse](t, rec).Balance)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestRouter(t)
	a := openAccount(t, h, "1")
	b := openAccount(t, h, "0")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "insufficient funds",
			path:   "/transfers",
			body:   TransferRequest{SourceAccountID: a.ID, DestinationAccountID: b.ID, Amount: "2"},
			status: http.StatusBadRequest,
			code:   "INSUFFICIENT_FUNDS",
		},
		{
			name:   "self transfer",
			path:   "/transfers",
			body:   TransferRequest{SourceAccountID: a.ID, DestinationAccountID: a.ID, Amount: "1"},
			status: http.StatusBadRequest,
			code:   "SELF_TRANSFER",
		},
		{
			name:   "fractional minor units",
			path:   "/accounts/" + a.ID + "/deposits",
			body:   AmountRequest{Amount: "0.001"},
			status: http.StatusUnprocessableEntity,
			code:   "INVALID_AMOUNT",
		},
		{
			name:   "zero amount",
			path:   "/accounts/" + a.ID + "/deposits",
			body:   AmountRequest{Amount: "0"},
			status: http.StatusUnprocessableEntity,
			code:   "INVALID_AMOUNT",
		},
		{
			name:   "missing destination",
			path:   "/transfers",
			body:   TransferRequest{SourceAccountID: a.ID, Amount: "1"},
			status: http.StatusBadRequest,
			code:   codeInvalidRequest,
		},
		{
			name:   "malformed body",
			path:   "/transfers",
			body:   "not an object",
			status: http.StatusBadRequest,
			code:   codeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestResolveAlias(t *testing.T) {
	h := newTestRouter(t)
	acc := openAccount(t, h, "0", "carol@upi")

	rec := do(t, h, http.MethodGet, "/aliases/carol@upi", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[AliasResponse](t, rec)
	assert.Equal(t, "carol@upi", got.Alias)
	assert.Equal(t, acc.ID, got.AccountID)

	rec = do(t, h, http.MethodGet, "/aliases/unknown@upi", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)
}

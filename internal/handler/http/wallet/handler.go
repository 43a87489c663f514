package wallet_http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wallet/internal/app/transfer"
	"wallet/internal/domain"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"

	codeInvalidRequest = "INVALID_REQUEST"

	// nginx convention for a client that went away before the response.
	statusClientClosedRequest = 499
)

type WalletHandler struct {
	service  transfer.Service
	aliases  domain.AliasResolver
	currency Currency
	logger   *zap.Logger
}

func NewWalletHandler(s transfer.Service, aliases domain.AliasResolver, currency Currency, l *zap.Logger) *WalletHandler {
	return &WalletHandler{service: s, aliases: aliases, currency: currency, logger: l}
}

type OpenAccountRequest struct {
	InitialBalance string   `json:"initial_balance"`
	Aliases        []string `json:"aliases"`
}

type AmountRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type TransferRequest struct {
	SourceAccountID      string `json:"source_account_id"`
	DestinationAccountID string `json:"destination_account_id"`
	DestinationAlias     string `json:"destination_alias"`
	Amount               string `json:"amount"`
	Description          string `json:"description"`
}

type AccountResponse struct {
	ID             string `json:"id"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type TransactionResponse struct {
	ID                   string `json:"id"`
	Kind                 string `json:"kind"`
	SourceAccountID      string `json:"source_account_id,omitempty"`
	DestinationAccountID string `json:"destination_account_id,omitempty"`
	Amount               int64  `json:"amount"`
	AmountDisplay        string `json:"amount_display"`
	Description          string `json:"description"`
	Status               string `json:"status"`
	Direction            string `json:"direction,omitempty"`
	CreatedAt            string `json:"created_at"`
}

type AliasResponse struct {
	Alias     string `json:"alias"`
	AccountID string `json:"account_id"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *WalletHandler) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	var initial int64
	if req.InitialBalance != "" {
		var err error
		if initial, err = h.currency.Parse(req.InitialBalance); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	account, err := h.service.OpenAccount(r.Context(), initial, req.Aliases...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.accountResponse(account))
}

func (h *WalletHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.accountResponse(account))
}

func (h *WalletHandler) ResolveAliasHandler(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	accountID, err := h.aliases.ResolveAlias(r.Context(), alias)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AliasResponse{Alias: alias, AccountID: accountID})
}

func (h *WalletHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.handleAmount(w, r, h.service.Deposit)
}

func (h *WalletHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.handleAmount(w, r, h.service.Withdraw)
}

type amountOperation func(ctx context.Context, accountID string, amount int64, opts ...transfer.Option) (*domain.TransactionRecord, error)

func (h *WalletHandler) handleAmount(w http.ResponseWriter, r *http.Request, op amountOperation) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := h.currency.Parse(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := op(r.Context(), chi.URLParam(r, "id"), amount, requestOptions(r, req.Description)...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.transactionResponse(rec, ""))
}

func (h *WalletHandler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SourceAccountID == "" {
		h.writeErrorBody(w, http.StatusBadRequest, codeInvalidRequest, "source_account_id is required")
		return
	}
	if (req.DestinationAccountID == "") == (req.DestinationAlias == "") {
		h.writeErrorBody(w, http.StatusBadRequest, codeInvalidRequest,
			"exactly one of destination_account_id and destination_alias is required")
		return
	}
	amount, err := h.currency.Parse(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	destination := req.DestinationAccountID
	if req.DestinationAlias != "" {
		if destination, err = h.aliases.ResolveAlias(r.Context(), req.DestinationAlias); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	rec, err := h.service.Transfer(r.Context(), req.SourceAccountID, destination, amount, req.Description,
		requestOptions(r, "")...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.transactionResponse(rec, ""))
}

func (h *WalletHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	records, err := h.service.ListTransactions(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]TransactionResponse, 0)
	for rec := range records {
		resp = append(resp, h.transactionResponse(&rec, accountID))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func requestOptions(r *http.Request, description string) []transfer.Option {
	var opts []transfer.Option
	if key := r.Header.Get(idempotencyKeyHeader); key != "" {
		opts = append(opts, transfer.WithIdempotencyKey(key))
	}
	if description != "" {
		opts = append(opts, transfer.WithDescription(description))
	}
	return opts
}

func (h *WalletHandler) accountResponse(a *domain.Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		Balance:        a.Balance,
		BalanceDisplay: h.currency.Format(a.Balance),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// transactionResponse renders rec; a non-empty viewer adds the direction
// from that account's point of view.
func (h *WalletHandler) transactionResponse(rec *domain.TransactionRecord, viewer string) TransactionResponse {
	resp := TransactionResponse{
		ID:                   rec.ID,
		Kind:                 string(rec.Kind),
		SourceAccountID:      rec.SourceAccountID,
		DestinationAccountID: rec.DestinationAccountID,
		Amount:               rec.Amount,
		AmountDisplay:        h.currency.Format(rec.Amount),
		Description:          rec.Description,
		Status:               string(rec.Status),
		CreatedAt:            rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if viewer != "" {
		resp.Direction = string(rec.DirectionFor(viewer))
	}
	return resp
}

func (h *WalletHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("Invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		h.writeErrorBody(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidAmount:
		return http.StatusUnprocessableEntity
	case domain.KindSelfTransfer, domain.KindInsufficientFunds:
		return http.StatusBadRequest
	case domain.KindAccountNotFound, domain.KindRecordNotFound:
		return http.StatusNotFound
	case domain.KindBusy, domain.KindConflict, domain.KindAccountAlreadyExists:
		return http.StatusConflict
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindCanceled:
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func (h *WalletHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	message := domain.MessageOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.String("code", string(kind)), zap.Error(err))
		if kind == domain.KindInternal {
			message = "internal server error"
		}
	} else {
		h.logger.Warn("Request rejected", zap.String("path", r.URL.Path), zap.String("code", string(kind)), zap.Error(err))
	}
	h.writeErrorBody(w, status, string(kind), message)
}

func (h *WalletHandler) writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func (h *WalletHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

package wallet_http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wallet/internal/app/transfer"
	"wallet/internal/domain"
)

func RegisterRoutes(r chi.Router, s transfer.Service, aliases domain.AliasResolver, currency Currency, l *zap.Logger) {
	handler := NewWalletHandler(s, aliases, currency, l.With(zap.String("component", "WalletHTTPHandler")))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Wallet service is healthy!"))
		})
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", handler.OpenAccountHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetAccountHandler)
			r.Post("/deposits", handler.DepositHandler)
			r.Post("/withdrawals", handler.WithdrawHandler)
			r.Get("/transactions", handler.ListTransactionsHandler)
		})
	})

	r.Get("/aliases/{alias}", handler.ResolveAliasHandler)
	r.Post("/transfers", handler.TransferHandler)
}

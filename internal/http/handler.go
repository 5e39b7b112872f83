package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apperr "BPSGateway/internal/errors"
	"BPSGateway/internal/models"
	"BPSGateway/internal/reconcile"
	"BPSGateway/internal/services"
)

type Handler struct {
	Gateway services.GatewayService
	Engine  *reconcile.Engine
}

func NewHandler(gateway services.GatewayService, engine *reconcile.Engine) *Handler {
	return &Handler{Gateway: gateway, Engine: engine}
}

type createInvoiceRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
	Tag      models.Tag      `json:"tag"`
}

type createPaymentRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Address  string          `json:"address"`
	Tag      models.Tag      `json:"tag"`
	Send     bool            `json:"send"`
}

type paymentResponse struct {
	*models.Payment
	TxHash string `json:"tx_hash,omitempty"`
}

type balanceResponse struct {
	Currency models.Currency `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type statsResponse struct {
	Engine reconcile.Stats         `json:"engine"`
	Unpaid map[models.Currency]int `json:"unpaid"`
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.NewAppError(apperr.InvalidArgument, "invalid json body").WithDetails(err.Error()))
		return
	}
	inv, err := h.Gateway.CreateInvoice(r.Context(), services.CreateInvoiceRequest{
		Currency: models.ParseCurrency(req.Currency),
		Amount:   req.Amount,
		Address:  req.Address,
		Tag:      req.Tag,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Gateway.GetInvoice(r.Context(), chi.URLParam(r, "invoiceId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.NewAppError(apperr.InvalidArgument, "invalid json body").WithDetails(err.Error()))
		return
	}
	p, txHash, err := h.Gateway.CreatePayment(r.Context(), services.CreatePaymentRequest{
		Currency: models.ParseCurrency(req.Currency),
		Amount:   req.Amount,
		Address:  req.Address,
		Tag:      req.Tag,
		Send:     req.Send,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Payment: p, TxHash: txHash})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Gateway.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{Payment: p})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	currency := models.ParseCurrency(chi.URLParam(r, "currency"))
	bal, err := h.Gateway.Balance(r.Context(), currency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Currency: currency, Balance: bal})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Unpaid: make(map[models.Currency]int)}
	if h.Engine != nil {
		resp.Engine = h.Engine.Stats()
	}
	for _, c := range h.Gateway.Rules.Currencies() {
		resp.Unpaid[c] = h.Gateway.Invoices.UnpaidCount(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorResponse struct {
	Code    apperr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details string           `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: apperr.InternalError, Message: "internal error"})
		return
	}
	writeJSON(w, appErr.HTTPStatus(), errorResponse{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details})
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hqpham/shop-checkout/internal/core/domain"
	"github.com/hqpham/shop-checkout/internal/port"
)

// CheckoutService is the slice of the coordinator the HTTP layer needs.
type CheckoutService interface {
	AddToCart(ctx context.Context, userID, productID int64, quantity int) error
	PlaceOrder(ctx context.Context, userID int64, payment domain.PaymentInfo) (int64, error)
	Checkout(ctx context.Context, email string, payment domain.PaymentInfo) (int64, error)
}

type HTTPHandler struct {
	checkout CheckoutService
	activity port.ActivityTracker
}

func NewHTTPHandler(checkout CheckoutService, activity port.ActivityTracker) *HTTPHandler {
	return &HTTPHandler{checkout: checkout, activity: activity}
}

// Register wires all endpoints onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/cart/add", h.AddToCart)
	mux.HandleFunc("/api/checkout", h.Checkout)
	mux.HandleFunc("/api/products/view", h.ViewProduct)
	mux.HandleFunc("/api/session/start", h.StartSession)
}

type AddToCartRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type CheckoutRequest struct {
	UserID        int64  `json:"user_id"`
	Email         string `json:"email"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
}

type ViewProductRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
}

type StartSessionRequest struct {
	UserID int64  `json:"user_id"`
	Device string `json:"device"`
}

type APIResponse struct {
	Success   bool   `json:"success"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	OrderID   int64  `json:"order_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (h *HTTPHandler) AddToCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AddToCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "invalid request body"})
		return
	}
	if req.UserID <= 0 || req.ProductID <= 0 || req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "missing required fields"})
		return
	}

	if err := h.checkout.AddToCart(r.Context(), req.UserID, req.ProductID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "item added to cart"})
}

func (h *HTTPHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "invalid request body"})
		return
	}
	if req.UserID <= 0 && req.Email == "" {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "user_id or email is required"})
		return
	}

	payment := domain.PaymentInfo{
		Method: domain.PaymentMethodCreditCard,
		Status: domain.PaymentStatusPaid,
	}
	if req.PaymentMethod != "" {
		payment.Method = domain.PaymentMethod(req.PaymentMethod)
	}
	if req.PaymentStatus != "" {
		payment.Status = domain.PaymentStatus(req.PaymentStatus)
	}

	var (
		orderID int64
		err     error
	)
	if req.Email != "" {
		orderID, err = h.checkout.Checkout(r.Context(), req.Email, payment)
	} else {
		orderID, err = h.checkout.PlaceOrder(r.Context(), req.UserID, payment)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "order placed successfully", OrderID: orderID})
}

func (h *HTTPHandler) ViewProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ViewProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 || req.ProductID <= 0 {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "invalid request body"})
		return
	}

	if err := h.activity.ViewProduct(r.Context(), req.UserID, req.ProductID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "view recorded"})
}

func (h *HTTPHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, APIResponse{Success: false, Code: "bad_request", Message: "invalid request body"})
		return
	}

	session, err := h.activity.StartSession(r.Context(), req.UserID, req.Device)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "session started", SessionID: session.ID.String()})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor distinguishes the caller-visible outcomes: retryable stock
// failures, plain durable failures where nothing happened, and partial
// failures where stock moved but no order exists.
func statusFor(err error) (int, string, string) {
	var partial *domain.PartialFailureError
	switch {
	case errors.As(err, &partial):
		return http.StatusInternalServerError, "partial_failure", "stock reserved but order not recorded; manual reconciliation required"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed", "unknown user, product or cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusGone, "sold_out", "insufficient stock"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "stock_contention", "stock contention, retry the order"
	case errors.Is(err, domain.ErrDurableWriteFailure):
		return http.StatusInternalServerError, "order_not_recorded", "order was not recorded, stock unchanged"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message := statusFor(err)
	writeJSON(w, status, APIResponse{Success: false, Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"goflare.io/parfum/checkout"
	"goflare.io/parfum/models"
)

func (s *Server) getCart(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, s.svc.Cart(r.Context(), sessionID))
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request, sessionID string) {
	var item models.CartItem
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.AddItem(r.Context(), sessionID, item))
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Server) updateQuantity(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req quantityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.UpdateQuantity(r.Context(), sessionID, r.PathValue("variantId"), *req.Quantity))
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, s.svc.RemoveItem(r.Context(), sessionID, r.PathValue("variantId")))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, s.svc.ClearCart(r.Context(), sessionID))
}

func (s *Server) openCart(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, s.svc.OpenCart(r.Context(), sessionID))
}

func (s *Server) closeCart(w http.ResponseWriter, r *http.Request, sessionID string) {
	writeJSON(w, http.StatusOK, s.svc.CloseCart(r.Context(), sessionID))
}

type checkoutRequest struct {
	Items json.RawMessage `json:"items"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// checkout starts a processor session. An empty body checks out the
// session's cart; otherwise the body's items field is used as given.
func (s *Server) checkout(w http.ResponseWriter, r *http.Request, sessionID string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var items json.RawMessage
	if len(bytes.TrimSpace(body)) > 0 {
		var req checkoutRequest
		if err = json.Unmarshal(body, &req); err != nil {
			req.Items = nil
		}
		items = req.Items
		if items == nil {
			items = json.RawMessage{}
		}
	}

	session, err := s.svc.Checkout(r.Context(), sessionID, items)
	if err != nil {
		status := http.StatusInternalServerError
		var validation *checkout.ValidationError
		if errors.As(err, &validation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, s.svc.CheckoutFailure(err))
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: session.ID, URL: session.URL})
}

func (s *Server) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn("Rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err = s.svc.DispatchEvent(r.Context(), &event); err != nil {
		s.logger.Error("Failed to dispatch webhook event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

package controller

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/ruteri/vault-session-broker/peer"
)

// maxBodySize is the maximum accepted request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler serves the peer protocol over HTTP.
type Handler struct {
	controller *Controller
	verifier   *Verifier
	log        *slog.Logger
}

func NewHandler(controller *Controller, verifier *Verifier, log *slog.Logger) *Handler {
	return &Handler{controller: controller, verifier: verifier, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(peer.OperationPath("{operation}"), h.HandleOperation)
}

// HandleOperation runs a peer protocol operation.
//
// URL format: POST /api/vault/{operation}
//
// Request body: JSON encoded peer.Payload. Requests with signatures not
// matching the peer registry are rejected with 403. Unknown operations
// return 404. Issuance failures are reported in the "error" field of a 200
// response.
func (h *Handler) HandleOperation(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var payload peer.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if err := h.verifier.Verify(payload.Envelope); err != nil {
		h.log.Warn("Rejected peer request", slog.String("operation", operation), slog.String("peer", payload.PeerID), "err", err)
		if errors.Is(err, ErrUnknownPeer) {
			// unknown peers are not told apart from bad signatures
			err = ErrInvalidSignature
		}
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	resp, err := h.controller.Handle(r.Context(), operation, payload.PeerID, payload.Params)
	if err != nil {
		h.log.Error("Failed to issue credentials", slog.String("operation", operation), slog.String("peer", payload.PeerID), "err", err)
		resp = map[string]any{"error": err.Error()}
	} else if resp == nil {
		http.Error(w, fmt.Sprintf("operation %s is not published", operation), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

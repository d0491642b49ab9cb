package webhook

import (
	"errors"
	"io"
	"net/http"

	"club-billing-engine/internal/common/logger"
)

const maxBodyBytes = 1 << 20

// Handler exposes the ingestor as an HTTP endpoint. The provider signs the
// raw body and sends the hex HMAC in Webhook-Signature.
type Handler struct {
	ingestor *Ingestor
	logger   logger.Logger
}

func NewHandler(ingestor *Ingestor, log logger.Logger) *Handler {
	return &Handler{ingestor: ingestor, logger: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), body, r.Header.Get("Webhook-Signature"))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		w.WriteHeader(http.StatusForbidden)
		return
	case err != nil:
		h.logger.Error("webhook ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook delivery processed", map[string]interface{}{
		"received":   res.Received,
		"duplicates": res.Duplicates,
		"applied":    res.Applied,
	})
	w.WriteHeader(http.StatusNoContent)
}

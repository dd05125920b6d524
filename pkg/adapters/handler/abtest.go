package handler

import (
	"net/http"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

type ABTestHandler struct {
	service ports.ABTestService
}

func NewABTestHandler(service ports.ABTestService) *ABTestHandler {
	return &ABTestHandler{service: service}
}

type VariantsRequest struct {
	Variants []domain.Variant `json:"variants"`
}

type CompleteRequest struct {
	WinnerVariantID string `json:"winner_variant_id"`
}

// Create opens a draft test on the link in the path.
func (h *ABTestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req VariantsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	test, err := h.service.Create(r.Context(), r.PathValue("id"), req.Variants)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, test)
}

func (h *ABTestHandler) Get(w http.ResponseWriter, r *http.Request) {
	test, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (h *ABTestHandler) SetVariants(w http.ResponseWriter, r *http.Request) {
	var req VariantsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	test, err := h.service.SetVariants(r.Context(), r.PathValue("id"), req.Variants)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

// Transition handles start, pause, resume and complete.
func (h *ABTestHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		test *domain.ABTest
		err  error
	)
	switch r.PathValue("action") {
	case "start":
		test, err = h.service.Start(r.Context(), id)
	case "pause":
		test, err = h.service.Pause(r.Context(), id)
	case "resume":
		test, err = h.service.Resume(r.Context(), id)
	case "complete":
		var req CompleteRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		test, err = h.service.Complete(r.Context(), id, req.WinnerVariantID)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

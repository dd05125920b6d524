package handler

import (
	"net/http"
	"strconv"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

const maxImportRecords = 10000

type HTTPHandler struct {
	service ports.LinkService
}

func NewHTTPHandler(service ports.LinkService) *HTTPHandler {
	return &HTTPHandler{service: service}
}

// MutationResponse reports the stored link and what happened to its edge
// projection. Degraded means the write is durable but the edge may serve the
// previous state until the projection TTL runs out.
type MutationResponse struct {
	Link     *domain.LinkRecord `json:"link"`
	Cache    string             `json:"cache"`
	Degraded bool               `json:"degraded"`
}

func mutationResponse(res *domain.MutationResult) MutationResponse {
	return MutationResponse{Link: res.Link, Cache: res.Cache.String(), Degraded: res.Degraded()}
}

type ImportResponse struct {
	Imported int                `json:"imported"`
	Failed   int                `json:"failed"`
	Results  []ImportItemResult `json:"results"`
}

type ImportItemResult struct {
	Key   string `json:"key"`
	Cache string `json:"cache"`
	Error string `json:"error,omitempty"`
}

// Create Link owned by the authenticated operator
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if email, ok := UserFromContext(r.Context()); ok {
		req.OwnerID = &email
	}

	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse(res))
}

// CreateGuest creates an unowned link. Guest links always expire.
func (h *HTTPHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.OwnerID = nil
	req.ExpiresAt = nil

	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse(res))
}

func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// List Links
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	search := r.URL.Query().Get("search")

	links, count, err := h.service.List(r.Context(), page, limit, search)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"data":  links,
		"total": count,
		"page":  page,
		"limit": limit,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update Link
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.LinkInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}

	res, err := h.service.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(res))
}

func (h *HTTPHandler) Archive(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(res))
}

// Delete Link. A degraded edge delete still answers 200 with the flag set,
// so the caller can tell the link may resolve for a while.
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !res.Degraded() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse(res))
}

func (h *HTTPHandler) Import(w http.ResponseWriter, r *http.Request) {
	var links []domain.LinkRecord
	if err := decodeBody(w, r, &links); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(links) > maxImportRecords {
		writeError(w, http.StatusRequestEntityTooLarge, "too many records")
		return
	}

	results, err := h.service.Import(r.Context(), links)
	if err != nil && len(results) == 0 {
		writeServiceError(w, r, err)
		return
	}

	resp := ImportResponse{Results: make([]ImportItemResult, 0, len(results))}
	for _, res := range results {
		item := ImportItemResult{Key: res.Key, Cache: res.Cache.String()}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Imported++
		}
		resp.Results = append(resp.Results, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get Stats for a Link
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/fanzone/memefeed/internal/feed"
	"github.com/fanzone/memefeed/pkg/model"
)

// StateResponse is the wire form of feed.PaginationState.
type StateResponse struct {
	Filter  model.FilterKey `json:"filter,omitempty"`
	Active  model.FilterKey `json:"active,omitempty"`
	Loading bool            `json:"loading"`
	HasMore bool            `json:"hasMore"`
	Error   string          `json:"error,omitempty"`
	Live    bool            `json:"live"`
}

// ItemsResponse is a snapshot of one cached partition.
type ItemsResponse struct {
	Filter model.FilterKey     `json:"filter"`
	Items  []model.CachedEntry `json:"items"`
	State  StateResponse       `json:"state"`
}

type listQuery struct {
	Limit int `schema:"limit"`
}

func (h *Handler) stateResponse(st feed.PaginationState) StateResponse {
	return StateResponse{
		Filter:  st.Filter,
		Active:  h.repo.ActiveFilter(),
		Loading: st.Loading,
		HasMore: st.HasMore,
		Error:   st.ErrorMessage(),
		Live:    h.repo.RealtimeActive(),
	}
}

// filterFromPath parses the {filter} path value, writing a 400 on failure.
func (h *Handler) filterFromPath(w http.ResponseWriter, r *http.Request) (model.FilterKey, bool) {
	key, err := model.ParseFilterKey(r.PathValue("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return "", false
	}
	return key, true
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stateResponse(h.repo.State()))
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	key, ok := h.filterFromPath(w, r)
	if !ok {
		return
	}

	var q listQuery
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	if q.Limit < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit cannot be negative")
		return
	}

	entries, err := h.repo.Snapshot(r.Context(), key)
	if err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	if entries == nil {
		entries = []model.CachedEntry{}
	}
	writeJSON(w, http.StatusOK, ItemsResponse{
		Filter: key,
		Items:  entries,
		State:  h.stateResponse(h.repo.State()),
	})
}

// runLoad wraps the load operations. Remote failures are reported in the
// returned state, not as HTTP errors.
func (h *Handler) runLoad(op func(context.Context, model.FilterKey) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := h.filterFromPath(w, r)
		if !ok {
			return
		}
		if err := op(r.Context(), key); err != nil {
			h.writeFeedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, h.stateResponse(h.repo.State()))
	}
}

func (h *Handler) handleResetCursor(w http.ResponseWriter, r *http.Request) {
	key, ok := h.filterFromPath(w, r)
	if !ok {
		return
	}
	h.repo.ResetCursor(key)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResetAllCursors(w http.ResponseWriter, r *http.Request) {
	h.repo.ResetAllCursors()
	w.WriteHeader(http.StatusNoContent)
}

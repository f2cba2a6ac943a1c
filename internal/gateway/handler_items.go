package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"

	"github.com/fanzone/memefeed/pkg/model"
)

type deleteQuery struct {
	Team string `schema:"team"`
}

type scoreQuery struct {
	Hit  *int64 `schema:"hit"`
	Miss *int64 `schema:"miss"`
}

// handlePostItem creates an item through the writer when one is configured,
// then writes its index entries. Without a writer the body must be an
// already-stored item and only the index entries are written.
func (h *Handler) handlePostItem(w http.ResponseWriter, r *http.Request) {
	var item model.ContentItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if item.Team != "" && !model.IsTeam(item.Team) {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Unknown team "+item.Team)
		return
	}

	if h.writer != nil {
		created, err := h.writer.Create(r.Context(), item)
		if err != nil {
			h.writeFeedError(w, r, err)
			return
		}
		item = created
	} else if err := item.Validate(); err != nil {
		h.writeFeedError(w, r, err)
		return
	}

	if err := h.repo.OnItemPosted(r.Context(), item); err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	if h.events != nil {
		if err := h.events.PublishAdded(r.Context(), item); err != nil {
			h.logger.Warn("Failed to announce posted item", "id", item.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, item)
}

// handleDeleteItem removes an item and its index entries. With a writer the
// team is read from the stored item; otherwise it comes from ?team=.
func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "id is required")
		return
	}

	var q deleteQuery
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	item := model.ContentItem{ID: id, Team: q.Team}

	if h.writer != nil {
		if h.primary != nil {
			stored, err := h.primary.Get(r.Context(), id)
			if err != nil {
				h.writeFeedError(w, r, err)
				return
			}
			item = stored
		}
		if err := h.writer.Delete(r.Context(), id); err != nil {
			h.writeFeedError(w, r, err)
			return
		}
	}

	if err := h.repo.OnItemDeleted(r.Context(), item); err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	if h.events != nil {
		if err := h.events.PublishRemoved(r.Context(), id); err != nil {
			h.logger.Warn("Failed to announce deleted item", "id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var q scoreQuery
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	if q.Hit == nil || q.Miss == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "hit and miss are required")
		return
	}
	if *q.Hit < 0 || *q.Miss < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "hit and miss cannot be negative")
		return
	}

	if err := h.repo.OnScoreChanged(r.Context(), id, *q.Hit, *q.Miss); err != nil {
		h.writeFeedError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

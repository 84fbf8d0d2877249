package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kalambet/carewatch/internal/ingest"
	"github.com/kalambet/carewatch/internal/profile"
	"github.com/kalambet/carewatch/internal/storage"
)

const maxKnowledgeBodySize = 10 << 20 // 10MB

type careEvent struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	UserID     string          `json:"user_id,omitempty"`
	ReminderID int64           `json:"reminder_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

func newCareEvent(e storage.CareEvent) careEvent {
	payload := json.RawMessage(e.Payload)
	if !json.Valid(payload) {
		b, _ := json.Marshal(e.Payload)
		payload = b
	}
	return careEvent{
		ID:         e.ID,
		Kind:       e.Kind,
		UserID:     e.SubjectID,
		ReminderID: e.ReminderID,
		Payload:    payload,
		CreatedAt:  e.CreatedAt,
	}
}

func handleListEvents(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.CareEventFilter{
			Kind:   r.URL.Query().Get("kind"),
			Limit:  parseIntParam(r, "limit", 50, 500),
			Offset: parseIntParam(r, "offset", 0, 0),
		}
		if s := r.URL.Query().Get("reminder_id"); s != "" {
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid reminder_id %q", s)
				return
			}
			f.ReminderID = id
		}

		events, err := deps.Store.ListCareEvents(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list events: %v", err)
			return
		}
		out := make([]careEvent, len(events))
		for i, e := range events {
			out[i] = newCareEvent(e)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type knowledgeRequest struct {
	Title   string `json:"title"`
	Source  string `json:"source"`
	Format  string `json:"format"`
	Content string `json:"content"`
	// Encoding is "base64" for binary formats such as pdf.
	Encoding string   `json:"encoding"`
	Tags     []string `json:"tags"`
}

type knowledgeDoc struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Source     string    `json:"source"`
	Format     string    `json:"format"`
	Tags       []string  `json:"tags"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func handleAddKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req knowledgeRequest
		if !decodeBody(w, r, maxKnowledgeBodySize, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		data := []byte(req.Content)
		if req.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			data = decoded
		}

		docID, jobID, err := ingest.Submit(r.Context(), deps.Store, ingest.Document{
			Title:  req.Title,
			Source: req.Source,
			Format: req.Format,
			Tags:   req.Tags,
			Data:   data,
		})
		switch {
		case errors.Is(err, ingest.ErrUnsupportedFormat), errors.Is(err, ingest.ErrEmptyDocument):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue document: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":     docID,
			"job_id": jobID,
			"status": "queued",
		})
	}
}

func handleListKnowledge(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListKnowledgeDocs(r.Context(), limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list knowledge docs: %v", err)
			return
		}
		out := make([]knowledgeDoc, len(docs))
		for i, d := range docs {
			tags := []string{}
			_ = json.Unmarshal([]byte(d.Tags), &tags)
			out[i] = knowledgeDoc{
				ID:         d.ID,
				Title:      d.Title,
				Source:     d.Source,
				Format:     d.Format,
				Tags:       tags,
				ChunkCount: d.ChunkCount,
				CreatedAt:  d.CreatedAt,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// handlePatchProfile sets each key of a flat {"identity.name": ...} object.
// Keys are applied in map order; a failure leaves earlier keys set.
func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]any
		if !decodeBody(w, r, maxRequestBodySize, &fields) {
			return
		}

		for key, value := range fields {
			err := deps.Profile.SetField(key, value)
			if errors.Is(err, profile.ErrUnknownKey) || errors.Is(err, profile.ErrInvalidValue) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set field %q: %v", key, err)
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

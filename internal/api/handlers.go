package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/harrylevesque/rtdevice/internal/realtime"
	"github.com/harrylevesque/rtdevice/internal/utils"
)

const maxBody = 1 << 20

// Session is the part of realtime.Client the API drives.
type Session interface {
	State() realtime.State
	Pending() int
	SendRequest(text string) error
	ResponseCreate() error
	ResponseCancel() error
	ConversationItemCreate(callID, result string) error
}

type handlers struct {
	session Session
	logger  *utils.Logger
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Time    string `json:"time"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		State:   h.session.State().String(),
		Pending: h.session.Pending(),
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// send forwards a raw protocol message.
func (h *handlers) send(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBody {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body is not valid JSON", http.StatusBadRequest)
		return
	}
	h.reply(w, h.session.SendRequest(string(body)))
}

func (h *handlers) responseCreate(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.session.ResponseCreate())
}

func (h *handlers) responseCancel(w http.ResponseWriter, r *http.Request) {
	h.reply(w, h.session.ResponseCancel())
}

type conversationItemRequest struct {
	CallID string `json:"call_id"`
	Result string `json:"result"`
}

func (h *handlers) conversationItem(w http.ResponseWriter, r *http.Request) {
	var req conversationItemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	h.reply(w, h.session.ConversationItemCreate(req.CallID, req.Result))
}

// reply maps session errors onto status codes.
func (h *handlers) reply(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]int{"pending": h.session.Pending()})
	case errors.Is(err, utils.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, utils.ErrInvalidParam):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, utils.ErrInvalidContext):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Errorf("session: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

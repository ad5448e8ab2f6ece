package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/rtdevice/internal/utils"
)

// NewRouter exposes the local control API for a running session.
func NewRouter(s Session, logger *utils.Logger) *mux.Router {
	h := &handlers{session: s, logger: logger.With("api")}
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/send", h.send).Methods(http.MethodPost)
	r.HandleFunc("/response/create", h.responseCreate).Methods(http.MethodPost)
	r.HandleFunc("/response/cancel", h.responseCancel).Methods(http.MethodPost)
	r.HandleFunc("/conversation/item", h.conversationItem).Methods(http.MethodPost)
	r.Use(h.logRequests)
	return r
}

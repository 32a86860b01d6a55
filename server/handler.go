package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-oplog/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// documentResponse is the JSON body of GET /documents/{id}.
type documentResponse struct {
	ID        string    `json:"id"`
	Base      string    `json:"base"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	Converged bool      `json:"converged"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewHandler creates the HTTP handler with all routes. staticDir may be
// empty to skip serving static files.
func NewHandler(hub *Hub, staticDir string) http.Handler {
	mux := http.NewServeMux()

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	// WebSocket endpoint.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		client := newClient(hub, conn)
		go client.WritePump()
		go client.ReadPump()
	})

	// Stored state of a document and whether its log reproduces it.
	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		info, err := hub.Store().Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("handler: get doc %q: %v", id, err)
			http.Error(w, "failed to load document", http.StatusInternalServerError)
			return
		}
		converged, err := store.VerifyLog(r.Context(), hub.Store(), id)
		if err != nil {
			log.Printf("handler: verify doc %q: %v", id, err)
			http.Error(w, "failed to verify document", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(documentResponse{
			ID:        info.ID,
			Base:      info.Base,
			Content:   info.Content,
			Version:   info.Version,
			Converged: converged,
			UpdatedAt: info.UpdatedAt,
		})
	})

	return mux
}

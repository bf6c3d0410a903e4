package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/PhillHH/chat-agent/pkg/audit"
)

// AdminStore is the archive query surface the review backend needs.
type AdminStore interface {
	ListSessions(offset, limit int) ([]audit.Session, error)
	GetSession(sessionID string) (*audit.SessionDetail, error)
	UpdateNote(sessionID, notes string) error
	ExportCSV(w io.Writer) error
}

type noteUpdate struct {
	Notes string `json:"notes"`
}

// registerAdminRoutes mounts the review backend. The routes always exist;
// requests are rejected with 403 unless the admin feature is enabled.
func (c *WebChannel) registerAdminRoutes() {
	c.mux.HandleFunc("GET /admin/sessions", c.adminGuard(c.handleListSessions))
	c.mux.HandleFunc("GET /admin/sessions/{session_id}", c.adminGuard(c.handleGetSession))
	c.mux.HandleFunc("POST /admin/sessions/{session_id}/note", c.adminGuard(c.handleUpdateNote))
	c.mux.HandleFunc("GET /admin/export", c.adminGuard(c.handleExport))
}

func (c *WebChannel) adminGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.config.AdminEnabled || c.admin == nil {
			http.Error(w, "Admin backend disabled", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (c *WebChannel) handleListSessions(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 20)

	sessions, err := c.admin.ListSessions(offset, limit)
	if err != nil {
		slog.Error("Admin session list failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

func (c *WebChannel) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := c.admin.GetSession(r.PathValue("session_id"))
	if errors.Is(err, audit.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Admin session detail failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, detail)
}

func (c *WebChannel) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var update noteUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sessionID := r.PathValue("session_id")
	err := c.admin.UpdateNote(sessionID, update.Notes)
	if errors.Is(err, audit.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Admin note update failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	detail, err := c.admin.GetSession(sessionID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, detail.Session)
}

func (c *WebChannel) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=training_data.csv")
	if err := c.admin.ExportCSV(w); err != nil {
		slog.Error("Admin export failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode admin response", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

package broker

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

// SessionSummary is the admin-facing projection of a session, shaped
// for cmd/brokerd's table output rather than wire-protocol use.
type SessionSummary struct {
	ID           string `json:"id"`
	ClientID     string `json:"client_id"`
	TechnicianID string `json:"technician_id"`
	State        string `json:"state"`
	CreatedAt    string `json:"created_at"`
}

// TransferSummary is the admin-facing projection of a transfer.
type TransferSummary struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Direction string `json:"direction"`
	Status    string `json:"status"`
	FileSize  int64  `json:"file_size"`
}

// registerAdminRoutes wires the read-only inspection endpoints
// cmd/brokerd's `session list`/`transfer list` commands poll. They are
// served on the same router as /health and /ws; there is no separate
// admin port because, unlike the technician/client websocket traffic,
// this is trusted-operator-only and expected to run behind the same
// network boundary as the process itself.
func (b *Broker) registerAdminRoutes(r chi.Router) {
	r.Get("/admin/sessions", b.handleAdminSessions)
	r.Get("/admin/transfers", b.handleAdminTransfers)
}

func (b *Broker) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions := b.sessions.Snapshot()
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarizeSession(s))
	}
	writeJSON(w, out)
}

func (b *Broker) handleAdminTransfers(w http.ResponseWriter, r *http.Request) {
	transfers := b.transfers.Snapshot()
	out := make([]TransferSummary, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, summarizeTransfer(t))
	}
	writeJSON(w, out)
}

func summarizeSession(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:           s.ID,
		ClientID:     s.ClientID,
		TechnicianID: s.TechnicianID,
		State:        string(s.Status),
		CreatedAt:    s.StartTime.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func summarizeTransfer(t *transfer.Transfer) TransferSummary {
	return TransferSummary{
		ID:        t.ID,
		SessionID: t.SessionID,
		Filename:  t.Request.Filename,
		Direction: string(t.Request.Direction),
		Status:    string(t.Status),
		FileSize:  t.Request.FileSize,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

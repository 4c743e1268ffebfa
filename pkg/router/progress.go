package router

import (
	"context"
	"time"

	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

// RunProgressBroadcaster ticks every progressInterval, pushing an
// unsolicited progress_response to both peers of every in_progress or
// paused transfer whose byte count moved since the last tick (spec
// §4.5.4: "rate-limited to one update per second per transfer
// regardless of chunk rate"). It blocks until ctx is cancelled; run it
// in its own goroutine.
func (r *Router) RunProgressBroadcaster(ctx context.Context) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tickProgress()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) tickProgress() {
	for _, t := range r.transfers.Snapshot() {
		p, err := r.transfers.Progress(t.ID)
		if err != nil {
			continue
		}
		if p.Status != transfer.StatusInProgress && p.Status != transfer.StatusPaused {
			r.forgetProgress(t.ID)
			continue
		}
		if !r.progressChanged(t.ID, p.Bytes) {
			continue
		}

		payload := progressToPayload(p)
		for _, role := range []session.Role{session.RoleClient, session.RoleTechnician} {
			if peer, ok := r.registry.Get(t.SessionID, role); ok {
				r.sendEnvelope(peer, protocol.TypeProgressResponse, t.SessionID, t.ID, payload)
			}
		}
	}
}

func (r *Router) progressChanged(transferID string, bytes int64) bool {
	r.progressLock.lock()
	defer r.progressLock.unlock()
	last, seen := r.progressLastBytes[transferID]
	r.progressLastBytes[transferID] = bytes
	return !seen || last != bytes
}

func (r *Router) forgetProgress(transferID string) {
	r.progressLock.lock()
	defer r.progressLock.unlock()
	delete(r.progressLastBytes, transferID)
}

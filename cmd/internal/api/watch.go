package api

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// handleWatch streams the job status of a repository over a WebSocket,
// sending the full status map whenever it changes. The session is checked
// once at connect time and bounds the stream by its expiry.
func (h *Handler) handleWatch(w http.ResponseWriter, req *request) {
	repo, ok := repoValue(w, req)
	if !ok {
		return
	}
	sess, err := h.sessions.Open(h.now(), h.tokenFromCookie(req.Request))
	if err != nil {
		h.writeFailure(w, req.Request, "watch", err)
		return
	}
	user, expires := sess.User(), sess.Expires()
	_ = sess.Close()

	// The stream outlives the server's per-request deadlines.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	// Accept verifies that Origin, when present, matches Host.
	conn, err := websocket.Accept(w, req.Request, nil)
	if err != nil {
		h.log.Info("api.watch.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	ctx, cancel := context.WithDeadline(req.Context(), expires)
	defer cancel()
	ctx = conn.CloseRead(ctx)

	h.log.Info("api.watch.start", "user", user, "repo", repo)
	defer h.log.Info("api.watch.stop", "user", user, "repo", repo)

	t := time.NewTicker(h.cfg.WatchInterval)
	defer t.Stop()

	var (
		last map[string]string
		sent bool
	)
	for {
		status, err := h.host.JobStatus(ctx, repo)
		if err != nil {
			h.log.Warn("api.watch.status.fail", "repo", repo, "err", err)
			_ = conn.Close(websocket.StatusInternalError, "status unavailable")
			return
		}
		if !sent || !maps.Equal(last, status) {
			if err := h.writeStatus(ctx, conn, status); err != nil {
				h.log.Info("api.watch.write.fail", "repo", repo, "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
			last, sent = status, true
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				_ = conn.Close(websocket.StatusNormalClosure, "session expired")
			}
			return
		case <-t.C:
		}
	}
}

func (h *Handler) writeStatus(parent context.Context, conn *websocket.Conn, status map[string]string) error {
	ctx, cancel := context.WithTimeout(parent, h.cfg.WatchWriteTimeout)
	defer cancel()

	if status == nil {
		status = map[string]string{}
	}
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

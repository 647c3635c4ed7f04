package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

const streamKeepAlive = 25 * time.Second

// Events отдаёт события вызывающего в формате Server-Sent Events. Автор и читатель
// получают только адресованные им события, администратор — события своей аудитории.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	c := caller(r)
	rc := http.NewResponseController(w)

	sub := h.hub.Subscribe(model.Audience(c.Role), c.ID, 0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream is not flushable", zap.Error(err))
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("encode event", zap.Int64("eventID", ev.ID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

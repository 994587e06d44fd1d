package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type realtimeEventPayload struct {
	DocumentID string   `json:"documentId"`
	RecordIDs  []string `json:"recordIds"`
	ActorID    string   `json:"actorId,omitempty"`
	Source     string   `json:"source"`
	Timestamp  int64    `json:"timestamp"`
}

// handleDocumentEvents streams change notifications for one document as server-sent events.
func (h *httpHandler) handleDocumentEvents(c *gin.Context) {
	documentID := c.Param("id")
	_, found, err := h.resolver.Document(documentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, documentID)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload(documentID))
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				DocumentID: message.DocumentID,
				RecordIDs:  message.RecordIDs,
				ActorID:    message.ActorID,
				Source:     realtimeSourceBackend,
				Timestamp:  message.Timestamp.UnixMilli(),
			})
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload(documentID))
			return true
		}
	})
}

func heartbeatPayload(documentID string) realtimeEventPayload {
	return realtimeEventPayload{
		DocumentID: documentID,
		RecordIDs:  []string{},
		Source:     realtimeSourceBackend,
		Timestamp:  time.Now().UTC().UnixMilli(),
	}
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// EventVoteNotification is the SSE event name for a pushed vote notification.
	EventVoteNotification = "vote-notification"
	eventHeartbeat        = "heartbeat"

	heartbeatInterval = 25 * time.Second
)

// handleNotificationStream serves the per-user push channel over SSE. The
// subscription is torn down when the client disconnects; events missed while
// offline stay recoverable through the list endpoint.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericErrorMessage})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := c.Request.Context()
	stream, cleanup := h.notifications.Subscribe(ctx, userID)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, open := <-stream:
			if !open {
				return
			}
			if err := writeServerSentEvent(c.Writer, EventVoteNotification, notificationToPayload(n)); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if err := writeServerSentEvent(c.Writer, eventHeartbeat, gin.H{"ts": time.Now().Unix()}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeServerSentEvent(w http.ResponseWriter, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func parseUnixSeconds(raw string) (time.Time, bool) {
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return time.Time{}, false
	}
	return time.Unix(seconds, 0).UTC(), true
}

func storedObjectPath(ownerID, fileName string) string {
	return fmt.Sprintf("%s/%d_%s", ownerID, time.Now().UnixNano(), fileName)
}

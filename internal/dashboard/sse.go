package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/warden/internal/state"
)

const (
	eventBotLog    = "botlog"
	eventGroups    = "groupsUpdate"
	eventHeartbeat = "heartbeat"
)

// heartbeatInterval is how often idle streams get a heartbeat.
var heartbeatInterval = 15 * time.Second

// sseEvent represents an SSE event to send to the client.
type sseEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// handleSSE streams the bot status, the joined conversations and every
// subsequent hub event.
func handleSSE(hub *Hub, ctrl Controller, joined *state.JoinedSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		id, events := hub.Subscribe()
		defer hub.Unsubscribe(id)

		status := "Not started"
		if ctrl.Started() {
			status = "Started"
		}
		writeSSE(c.Writer, eventBotLog, "Bot status: "+status)
		writeSSE(c.Writer, eventGroups, joined.Snapshot())
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, eventHeartbeat, map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case ev, ok := <-events:
				if !ok {
					return
				}
				writeSSE(c.Writer, ev.Event, ev.Data)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

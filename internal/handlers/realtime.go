package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/realtime"
	"github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/response"
)

// RealtimeHandler upgrades to a websocket carrying connectivity and sync events.
type RealtimeHandler struct {
	hub *realtime.Hub
}

func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream handles GET /ws?streams=connectivity,sync. Without a selection the
// client receives every stream.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	streams := requestedStreams(c.QueryArray("streams"))
	if len(streams) == 0 {
		streams = realtime.DefaultStreams
	}
	h.hub.Serve(streams, c.Writer, c.Request)
}

// requestedStreams accepts both ?streams=a,b and repeated ?streams= values.
func requestedStreams(raw []string) []string {
	seen := map[string]bool{}
	streams := make([]string, 0, len(raw))
	for _, value := range raw {
		for _, name := range strings.Split(value, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			streams = append(streams, name)
		}
	}
	return streams
}

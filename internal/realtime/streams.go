package realtime

import (
	"github.com/charlesng35/inspectsync/internal/connectivity"
	"github.com/charlesng35/inspectsync/internal/syncer"
)

// Named realtime streams exposed to the field application.
const (
	StreamConnectivity = "connectivity"
	StreamSync         = "sync"
)

// Events published on the streams above.
const (
	EventConnectivityChanged = "connectivity.changed"
	EventSyncCompleted       = "sync.completed"
)

// DefaultStreams is used when a client connects without naming any.
var DefaultStreams = []string{StreamConnectivity, StreamSync}

func knownStream(stream string) bool {
	return stream == StreamConnectivity || stream == StreamSync
}

// ConnectivityPayload is the data of a connectivity.changed event.
type ConnectivityPayload struct {
	Online bool `json:"online"`
}

// PublishConnectivity forwards monitor transitions to the hub until the
// returned subscription is released.
func PublishConnectivity(hub *Hub, monitor *connectivity.Monitor) *connectivity.Subscription {
	return monitor.Subscribe(func(online bool) {
		hub.Broadcast(StreamConnectivity, EventConnectivityChanged, ConnectivityPayload{Online: online})
	})
}

// SyncHook returns a synchronizer drain hook that announces passes which
// walked the queue.
func SyncHook(hub *Hub) func(syncer.DrainResult) {
	return func(result syncer.DrainResult) {
		if !result.Ran() {
			return
		}
		hub.Broadcast(StreamSync, EventSyncCompleted, result)
	}
}

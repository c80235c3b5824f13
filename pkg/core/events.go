// pkg/core/events.go
package core

// Push event names delivered over the websocket channel.
const (
	EventNewCall        = "call_new"
	EventLiveFeedUpdate = "live_feed_update"
)

// PushMessage is the envelope for every server push. Both event kinds carry
// a full Call payload.
type PushMessage struct {
	Event string `json:"event"`
	Call  Call   `json:"call"`
}

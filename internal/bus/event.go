package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared between packages. Namespaces end at the first dot.
const (
	KindPhaseChanged = "session.phase_changed"
	KindQRCode       = "session.qr"
	KindSessionReset = "session.reset"

	KindRemoteMessage    = "remote.message"
	KindRemoteAck        = "remote.ack"
	KindRemoteConnection = "remote.connection"

	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindStateChanged = "state.changed"
)

// Emit publishes a payload under kind, stamped with the current time.
// Emitting on a nil bus is a no-op.
func (b *Bus) Emit(kind string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

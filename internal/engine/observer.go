package engine

import "github.com/changeware/flowgate/internal/protocol"

// Observer receives fire-and-forget notifications about a run. The engine
// never renders or persists anything itself; a UI, logger or remote bridge
// sits behind this interface.
type Observer interface {
	OnStateChange(snap protocol.RunSnapshot)
	OnMessage(msg protocol.Message)
}

// NoopObserver discards all notifications
type NoopObserver struct{}

func (NoopObserver) OnStateChange(protocol.RunSnapshot) {}
func (NoopObserver) OnMessage(protocol.Message)         {}

// MultiObserver fans notifications out to several observers in order
type MultiObserver []Observer

func (m MultiObserver) OnStateChange(snap protocol.RunSnapshot) {
	for _, o := range m {
		o.OnStateChange(snap)
	}
}

func (m MultiObserver) OnMessage(msg protocol.Message) {
	for _, o := range m {
		o.OnMessage(msg)
	}
}

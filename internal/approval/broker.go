// Package approval routes pending human decisions between the engine and
// whatever surfaces capture them (bridge clients, Telegram, Discord).
package approval

import (
	"context"
	"log"
	"sync"

	"github.com/changeware/flowgate/internal/protocol"
)

// Decider is the engine-side decision surface. The runner implements it.
type Decider interface {
	Approve(ctx context.Context, approver string) error
	Reject(ctx context.Context, approver, reason string) error
}

// Surface is an external channel that presents pending approval requests to
// a human and reports resolutions back for display.
type Surface interface {
	NotifyPending(req protocol.ApprovalRequest, snap protocol.RunSnapshot)
	NotifyResolved(req protocol.ApprovalRequest)
}

// Broker watches run snapshots for approval activity and fans it out to the
// registered surfaces; decisions coming back from any surface are forwarded
// to the decider. It implements the engine's observer contract so it can be
// attached to a runner directly.
type Broker struct {
	mu       sync.Mutex
	decider  Decider
	surfaces []Surface
	notified map[string]string // approval id -> last status fanned out
}

// NewBroker creates a broker for one run's decider
func NewBroker(decider Decider) *Broker {
	return &Broker{
		decider:  decider,
		notified: make(map[string]string),
	}
}

// AddSurface registers an approval surface
func (b *Broker) AddSurface(s Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surfaces = append(b.surfaces, s)
}

// OnStateChange inspects the snapshot for a new pending request or a fresh
// resolution and notifies the surfaces once per transition.
func (b *Broker) OnStateChange(snap protocol.RunSnapshot) {
	if snap.Approval == nil {
		return
	}
	req := *snap.Approval

	b.mu.Lock()
	last, seen := b.notified[req.ID]
	if seen && last == req.Status {
		b.mu.Unlock()
		return
	}
	b.notified[req.ID] = req.Status
	surfaces := make([]Surface, len(b.surfaces))
	copy(surfaces, b.surfaces)
	b.mu.Unlock()

	for _, s := range surfaces {
		if req.Status == protocol.ApprovalPending {
			s.NotifyPending(req, snap)
		} else {
			s.NotifyResolved(req)
		}
	}
}

// OnMessage is part of the observer contract; the broker has no use for
// plain messages.
func (b *Broker) OnMessage(protocol.Message) {}

// Approve forwards an approval decision to the engine
func (b *Broker) Approve(ctx context.Context, approver string) {
	if err := b.decider.Approve(ctx, approver); err != nil {
		log.Printf("[Approval] Approve by %s failed: %v", approver, err)
	}
}

// Reject forwards a rejection to the engine
func (b *Broker) Reject(ctx context.Context, approver, reason string) {
	if err := b.decider.Reject(ctx, approver, reason); err != nil {
		log.Printf("[Approval] Reject by %s failed: %v", approver, err)
	}
}

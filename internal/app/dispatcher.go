package app

import (
	"context"
	"errors"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

// Dispatcher drains routing decisions and hands each one to the recipient's
// connections. It is the only reader of SessionManager.Deliveries.
type Dispatcher struct {
	Registry *Registry
	Policy   Policy
}

func NewDispatcher(reg *Registry, policy Policy) *Dispatcher {
	if policy == nil {
		policy = SimplePolicy{Action: DropFrame}
	}
	return &Dispatcher{Registry: reg, Policy: policy}
}

// Run blocks until deliveries is closed or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, deliveries <-chan core.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case dl, ok := <-deliveries:
			if !ok {
				return
			}
			d.Deliver(dl)
		}
	}
}

// Deliver sends one delivery to every connection of its recipient. A user
// without connections simply misses it.
func (d *Dispatcher) Deliver(dl core.Delivery) {
	conns := d.Registry.ConnectionsOf(dl.Recipient)
	if len(conns) == 0 {
		log.Debug().Str("module", "app.dispatch").Str("to", string(dl.Recipient)).Str("kind", string(dl.Command.Kind())).Msg("recipient has no connection")
		return
	}
	frames := make(map[string]core.Frame, 1)
	for _, c := range conns {
		frame, ok := frames[c.Codec.Name()]
		if !ok {
			data, err := c.Codec.Encode(dl.Command)
			if err != nil {
				log.Error().Err(err).Str("module", "app.dispatch").Str("kind", string(dl.Command.Kind())).Msg("encode failed")
				continue
			}
			frame = data
			frames[c.Codec.Name()] = frame
		}
		err := c.Conn.TrySend(frame)
		switch {
		case err == nil:
		case errors.Is(err, core.ErrBackpressure):
			d.onBackpressure(dl, c)
		default:
			log.Debug().Err(err).Str("module", "app.dispatch").Str("conn", string(c.ID)).Msg("send failed")
		}
	}
}

// onBackpressure applies the policy to a full send buffer. Losing an offer,
// answer or candidate breaks that call, so those drops log at error level.
func (d *Dispatcher) onBackpressure(dl core.Delivery, c regSnap) {
	action := d.Policy.OnBackPressure(dl.Recipient, c.ID, dl.Command)
	ev := log.Warn()
	if _, directed := dl.Command.(domain.DirectedCommand); directed && action == DropFrame {
		ev = log.Error()
	}
	ev.Str("module", "app.dispatch").Str("conn", string(c.ID)).Str("to", string(dl.Recipient)).
		Str("kind", string(dl.Command.Kind())).Stringer("action", action).Msg("send buffer full")
	if action == KickMember {
		d.Registry.Cancel(c.ID)
	}
}

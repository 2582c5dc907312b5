package call

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/callsignal/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Transport is a Signaler that owns its connection loop.
type Transport interface {
	Signaler
	Run(ctx context.Context) error
}

// Controller is what a user interface talks to: the call manager plus its
// signaling transport.
type Controller struct {
	manager     *Manager
	transport   Transport
	inVideoCall atomic.Bool
}

func NewController(m *Manager, t Transport) *Controller {
	return &Controller{manager: m, transport: t}
}

func (c *Controller) Manager() *Manager { return c.manager }

// Run drives the transport and the manager until either stops.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.transport.Run(ctx) })
	g.Go(func() error { return c.manager.Run(ctx) })
	return g.Wait()
}

func (c *Controller) InVideoCall() bool { return c.inVideoCall.Load() }

func (c *Controller) InitiateCall(ctx context.Context, room domain.RoomID) error {
	if err := c.manager.InitiateCall(ctx, room); err != nil {
		return err
	}
	c.inVideoCall.Store(true)
	return nil
}

func (c *Controller) AcceptCall(ctx context.Context, req domain.JoinCall) error {
	if err := c.manager.AcceptCall(ctx, req); err != nil {
		return err
	}
	c.inVideoCall.Store(true)
	return nil
}

func (c *Controller) RejectCall(req domain.JoinCall) error {
	return c.manager.RejectCall(req)
}

func (c *Controller) LeaveCall(ctx context.Context) {
	c.manager.Disconnect(ctx)
	c.inVideoCall.Store(false)
}

// Reinit drops the local call state and asks the server to replay room
// membership, which brings back OngoingCall notices.
func (c *Controller) Reinit(ctx context.Context) error {
	c.LeaveCall(ctx)
	return c.transport.Send(ctx, domain.Reconnect{})
}

func (c *Controller) EnableMicrophone(enabled bool) { c.manager.EnableMicrophone(enabled) }
func (c *Controller) EnableCamera(enabled bool)     { c.manager.EnableCamera(enabled) }

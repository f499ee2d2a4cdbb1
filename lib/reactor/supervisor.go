package reactor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs a fixed set of Loops together and reports the first
// failure, keeping the one-reactor-per-subsystem model intact: the node
// supervises its transport reactor and its network database reactor
// together. The DH keypair producer is a separate goroutine started by
// peer.NewDHPool and is not supervised.
type Supervisor struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewSupervisor derives a cancellable group from ctx; cancelling ctx (or
// any supervised Loop returning an error) stops every other Loop.
func NewSupervisor(ctx context.Context) *Supervisor {
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{group: g, ctx: gctx}
}

// Supervise starts l.Run under the supervisor's group.
func (s *Supervisor) Supervise(l *Loop) {
	s.group.Go(func() error {
		return l.Run(s.ctx)
	})
}

// Wait blocks until every supervised Loop has returned, then returns the
// first non-nil error a Loop returned; after cancellation that is
// context.Canceled.
func (s *Supervisor) Wait() error {
	return s.group.Wait()
}

// Context returns the group-derived context Loops are supervised under.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

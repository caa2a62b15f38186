package notify

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Fanout delivers each event to every notifier concurrently and reports the
// first failure.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, event Event) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range f {
		g.Go(func() error { return n.Notify(ctx, event) })
	}
	return g.Wait()
}

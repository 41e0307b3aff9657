package actor

import (
	"context"
	"errors"

	"github.com/yllada/vpn-client/common"
)

// Handler processes one message. Handlers run on the consumer goroutine
// and must not block on work that needs the same mailbox to make progress.
type Handler[M any] func(ctx context.Context, msg M)

// Run drains mb, calling handle for each message in order, until ctx is
// done or the mailbox is closed and empty. A closed mailbox is a normal
// shutdown and returns nil.
func Run[M any](ctx context.Context, mb *Mailbox[M], handle Handler[M]) error {
	for {
		msg, err := mb.Receive(ctx)
		if err != nil {
			if errors.Is(err, common.ErrClosed) {
				return nil
			}
			return err
		}
		handle(ctx, msg)
	}
}

package middleware

import (
	"context"
	"fmt"

	"chatgate/internal/app/commands"
	"chatgate/internal/app/outbox"
)

// OutboxFlush hands the events a command recorded to the broker once the
// command has succeeded. Failed commands leave the outbox untouched.
func OutboxFlush(box outbox.Outbox) CommandMiddleware {
	if box == nil {
		panic("middleware: outbox required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil {
				return nil, err
			}
			if err := box.Flush(ctx); err != nil {
				return nil, fmt.Errorf("flush outbox after %s: %w", cmd.Key(), err)
			}
			return res, nil
		})
	}
}

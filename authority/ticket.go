package authority

import (
	"context"

	"github.com/jrsteele09/go-collab-client/credentials"
)

// ticket is one in-flight refresh attempt shared by every caller that saw a 401
// for the same access token. done is closed exactly once when the attempt settles.
type ticket struct {
	before string // access token the refresh replaces
	done   chan struct{}
	pair   credentials.Pair
	err    error
}

func newTicket(before string) *ticket {
	return &ticket{
		before: before,
		done:   make(chan struct{}),
	}
}

// wait blocks until the ticket settles or ctx is done
func (t *ticket) wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

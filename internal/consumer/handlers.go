package consumer

import (
	"context"
	"errors"
)

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Fanout delivers every message to each handler in order and joins their errors.
type Fanout []Handler

// Handle implements Handler.
func (f Fanout) Handle(ctx context.Context, msg Message) error {
	var err error
	for _, h := range f {
		err = errors.Join(err, h.Handle(ctx, msg))
	}
	return err
}

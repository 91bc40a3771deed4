package responder

import (
	"context"
	"errors"
	"time"

	"clinic-inbox/internal/models"
)

var ErrEmptyReply = errors.New("responder returned an empty reply")

// Request is the input of one draft generation.
type Request struct {
	ContactID   string
	LastMessage string
	// Prompt is the active persona, nil when none is active.
	Prompt *models.Prompt
}

// Responder produces the text of an AI draft.
type Responder interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Responder.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Waiter suspends a draft generation for the persona's response delay.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type WaiterFunc func(ctx context.Context, d time.Duration) error

func (f WaiterFunc) Wait(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// SleepWaiter waits on a timer and returns early with ctx.Err() on cancellation.
type SleepWaiter struct{}

func (SleepWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoWait returns immediately unless ctx is already done.
var NoWait = WaiterFunc(func(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
})

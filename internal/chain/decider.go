package chain

import (
	"context"
)

// AutoDecider answers every stall with a fixed decision. Useful for
// unattended runs that should always skip, and for tests.
type AutoDecider Decision

// Decide returns the fixed decision.
func (d AutoDecider) Decide(ctx context.Context, s Stall) (Decision, error) {
	return Decision(d), nil
}

// prompt carries one stall to the operator goroutine and back.
type prompt struct {
	stall      Stall
	responseCh chan response
}

type response struct {
	decision Decision
	err      error
}

// PromptFunc produces a decision for a stall, typically by asking a human.
type PromptFunc func(ctx context.Context, s Stall) (Decision, error)

// ChannelDecider serializes stall decisions from concurrent wave tasks
// through a single operator goroutine, so two simultaneous stalls never
// interleave their prompts.
type ChannelDecider struct {
	promptCh chan prompt
	fn       PromptFunc
	done     chan struct{}
}

// NewChannelDecider creates a decider with the given buffer and prompt
// function. The buffer should be at least the wave concurrency so stalled
// tasks queue instead of blocking each other's sends.
func NewChannelDecider(buffer int, fn PromptFunc) *ChannelDecider {
	return &ChannelDecider{
		promptCh: make(chan prompt, buffer),
		fn:       fn,
		done:     make(chan struct{}),
	}
}

// Start launches the prompt handler. It serves decisions until ctx ends.
func (d *ChannelDecider) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case p := <-d.promptCh:
				decision, err := d.fn(ctx, p.stall)
				select {
				case <-ctx.Done():
					p.responseCh <- response{err: ctx.Err()}
					return
				default:
					p.responseCh <- response{decision: decision, err: err}
				}
			}
		}
	}()
}

// Decide queues the stall for the operator and waits for the answer,
// honoring cancellation at both the send and the receive.
func (d *ChannelDecider) Decide(ctx context.Context, s Stall) (Decision, error) {
	responseCh := make(chan response, 1)

	select {
	case d.promptCh <- prompt{stall: s, responseCh: responseCh}:
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}

	select {
	case resp := <-responseCh:
		return resp.decision, resp.err
	case <-ctx.Done():
		return DecisionAbort, ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (d *ChannelDecider) Stop() {
	<-d.done
}

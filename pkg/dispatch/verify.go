package dispatch

import (
	"context"
	"fmt"
)

// Verify runs the two-step review pipeline: front answers the text, then
// back reviews front's full response. The back step starts only after
// front's completion signal fires. onStep receives front's result as soon
// as it is available; onDone receives back's review (or the first step's
// failure). The returned error covers admission of the front step only.
func (c *Coordinator) Verify(ctx context.Context, text string, onBatch BatchFunc, onStep DoneFunc, onDone DoneFunc) error {
	if onStep == nil {
		onStep = func(Result) {}
	}
	if onDone == nil {
		onDone = func(Result) {}
	}

	frontDone := make(chan Result, 1)

	err := c.Dispatch(ctx, AgentFront, text, onBatch, func(res Result) {
		frontDone <- res
	})
	if err != nil {
		return err
	}

	go func() {
		var front Result
		select {
		case front = <-frontDone:
		case <-ctx.Done():
			onDone(Result{Agent: AgentBack, Err: ctx.Err()})
			return
		}

		onStep(front)

		if front.Err != nil {
			onDone(Result{Agent: AgentBack, Err: fmt.Errorf("verification skipped, primary answer failed: %w", front.Err)})
			return
		}

		review := buildReviewPrompt(text, front.Text)

		err := c.Dispatch(ctx, AgentBack, review, onBatch, onDone)
		if err != nil {
			onDone(Result{Agent: AgentBack, Err: err})
		}
	}()

	return nil
}

// buildReviewPrompt frames front's full response for the reviewing agent.
func buildReviewPrompt(question, answer string) string {
	return fmt.Sprintf(
		"Review the following response for correctness and completeness. Confirm it or flag any problems.\n\nQuestion:\n%s\n\nResponse:\n%s",
		question, answer)
}

package pipeline

import (
	"context"
	"fmt"
)

type stageResult[T any] struct {
	value    T
	panicked any
}

// race runs fn in its own goroutine and waits for it or for budget to end,
// whichever comes first. fn gets a context detached from budget so an
// abandoned call finishes under its own timeout; its result is dropped.
// A panic in fn is re-raised on the caller's goroutine.
func race[T any](budget context.Context, fn func(ctx context.Context) T) (T, bool) {
	var zero T
	if budget.Err() != nil {
		return zero, false
	}

	done := make(chan stageResult[T], 1)
	detached := context.WithoutCancel(budget)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageResult[T]{panicked: r}
			}
		}()
		done <- stageResult[T]{value: fn(detached)}
	}()

	select {
	case result := <-done:
		if result.panicked != nil {
			panic(fmt.Sprintf("pipeline stage panicked: %v", result.panicked))
		}
		return result.value, true
	case <-budget.Done():
		return zero, false
	}
}

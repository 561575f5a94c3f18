package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one recipient's personalization attempt.
type Result struct {
	Index int
	Doc   []byte
	Err   error
}

// ConfigFn supplies the per-recipient overlay config. Each recipient must get
// a distinct destination URL so a scan attributes back to one individual.
type ConfigFn func(index int) Config

// Sink receives each finished document in completion order. Calls are
// serialized, so implementations need no locking of their own.
type Sink func(index int, doc []byte, err error)

// Options bounds the fan-out.
type Options struct {
	// Concurrency caps simultaneous overlay calls. Values below 1 mean 1.
	Concurrency int
	// Timeout bounds one recipient's render. Zero disables the bound.
	Timeout time.Duration
	// Throttle, when set, gates each render. It is called once per recipient
	// before the overlay; an error skips that recipient and every later one.
	Throttle func(ctx context.Context) error
}

// PersonalizeEach overlays every recipient with bounded parallelism, feeding
// each outcome to sink as it lands. A recipient's failure goes to the sink
// and never stops the batch. Context cancellation stops the run before the
// next recipient; renders already in flight finish and report first.
func (e *Engine) PersonalizeEach(ctx context.Context, base []byte, recipients []Fields, cfgFn ConfigFn, opts Options, sink Sink) error {
	if cfgFn == nil {
		return fmt.Errorf("config fn is required")
	}
	if sink == nil {
		return fmt.Errorf("sink is required")
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	emit := func(i int, doc []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		sink(i, doc, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for i := range recipients {
		if err := ctx.Err(); err != nil {
			break
		}

		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			if opts.Throttle != nil {
				if err := opts.Throttle(ctx); err != nil {
					return nil
				}
			}

			doc, err := e.overlayWithTimeout(opts.Timeout, base, recipients[i], cfgFn(i))
			emit(i, doc, err)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// PersonalizeBatch runs PersonalizeEach and collects results indexed by
// recipient. Result order follows the input list even though completion
// order does not. When the context ends early, entries never attempted are
// left zero valued alongside the returned context error.
func (e *Engine) PersonalizeBatch(ctx context.Context, base []byte, recipients []Fields, cfgFn ConfigFn, opts Options) ([]Result, error) {
	results := make([]Result, len(recipients))
	for i := range results {
		results[i].Index = i
	}

	err := e.PersonalizeEach(ctx, base, recipients, cfgFn, opts, func(i int, doc []byte, rerr error) {
		results[i] = Result{Index: i, Doc: doc, Err: rerr}
	})
	return results, err
}

// overlayWithTimeout bounds one render. The overlay itself cannot be
// interrupted once started; on timeout it is abandoned and its eventual
// result discarded.
func (e *Engine) overlayWithTimeout(timeout time.Duration, base []byte, fields Fields, cfg Config) ([]byte, error) {
	if timeout <= 0 {
		return e.Overlay(base, fields, cfg)
	}

	type outcome struct {
		doc []byte
		err error
	}

	ch := make(chan outcome, 1)
	go func() {
		doc, err := e.Overlay(base, fields, cfg)
		ch <- outcome{doc: doc, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, fmt.Errorf("render timed out after %s", timeout)
	case out := <-ch:
		return out.doc, out.err
	}
}

package db

import (
	"context"
	"sync"
)

type hooksKey struct{}

// Hooks collects callbacks to run after the outermost transaction commits.
type Hooks struct {
	mu     sync.Mutex
	funcs  []func(context.Context)
	parent *Hooks
}

// WithHooks attaches a fresh hook list to ctx. Nested calls keep the outer list.
func WithHooks(ctx context.Context) (context.Context, *Hooks) {
	if h, ok := ctx.Value(hooksKey{}).(*Hooks); ok {
		return ctx, h
	}
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// NestHooks gives a savepoint scope its own hook list. Release hands the callbacks to
// the enclosing list; a rolled back scope simply drops it. Without an enclosing list
// the returned Hooks is nil and callbacks run immediately, as with AfterCommit.
func NestHooks(ctx context.Context) (context.Context, *Hooks) {
	parent, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		return ctx, nil
	}
	h := &Hooks{parent: parent}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// Release moves the callbacks of a nested list to its parent.
func (h *Hooks) Release() {
	if h == nil || h.parent == nil {
		return
	}
	h.mu.Lock()
	funcs := h.funcs
	h.funcs = nil
	h.mu.Unlock()

	h.parent.mu.Lock()
	h.parent.funcs = append(h.parent.funcs, funcs...)
	h.parent.mu.Unlock()
}

// AfterCommit registers fn on the ambient transaction. Without a transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	h, ok := ctx.Value(hooksKey{}).(*Hooks)
	if !ok {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.funcs = append(h.funcs, fn)
	h.mu.Unlock()
}

// Run executes the registered callbacks in registration order.
// Callbacks registered while running are executed too.
func (h *Hooks) Run(ctx context.Context) {
	for i := 0; ; i++ {
		h.mu.Lock()
		if i >= len(h.funcs) {
			h.funcs = nil
			h.mu.Unlock()
			return
		}
		fn := h.funcs[i]
		h.mu.Unlock()
		fn(ctx)
	}
}

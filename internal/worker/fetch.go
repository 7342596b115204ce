package worker

import (
	"context"
	"fmt"
)

// fetch answers an intercepted request. Until the worker is active, and for
// requests the strategies do not handle, the result carries no response and
// the request goes to the network untouched.
func (w *Worker) fetch(ctx context.Context, ev Event) (Result, error) {
	if ev.Request == nil {
		return Result{}, fmt.Errorf("fetch event without request")
	}

	w.mu.RLock()
	handlers := w.handlers
	w.mu.RUnlock()
	if handlers == nil {
		return Result{}, nil
	}

	req := ev.Request
	if !req.URL.IsAbs() {
		// requests made straight to the worker are relative to the origin
		req = req.Clone(ctx)
		req.URL = w.origin.ResolveReference(req.URL)
		req.Host = req.URL.Host
		req.RequestURI = ""
	}

	resp, ok := handlers.Handle(ctx, req)
	if !ok {
		return Result{}, nil
	}
	return Result{Response: resp}, nil
}

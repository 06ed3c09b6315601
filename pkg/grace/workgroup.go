package grace

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Workgroup runs functions with bounded concurrency and collects all of their errors
type Workgroup struct {
	group errgroup.Group

	mu   sync.Mutex
	errs []error
}

func NewWorkgroup(limit int) *Workgroup {
	if limit < 1 {
		limit = 1
	}

	w := &Workgroup{}
	w.group.SetLimit(limit)
	return w
}

// Go blocks until a slot is available and runs fn in a new goroutine
func (w *Workgroup) Go(fn func() error) {
	w.group.Go(func() error {
		if err := fn(); err != nil {
			w.mu.Lock()
			w.errs = append(w.errs, err)
			w.mu.Unlock()
		}
		return nil
	})
}

// Wait blocks until all functions return, errors are joined
func (w *Workgroup) Wait() error {
	_ = w.group.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.errs...)
}

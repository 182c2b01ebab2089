package archive

import (
	"context"
	"sync"
)

// Job is the pending outcome of one packaging run. It resolves exactly once,
// with either a Result or a fatal error.
type Job struct {
	done chan struct{}
	once sync.Once
	res  Result
	err  error
}

func newJob() *Job {
	return &Job{done: make(chan struct{})}
}

func completed(res Result, err error) *Job {
	j := newJob()
	j.complete(res, err)
	return j
}

func (j *Job) complete(res Result, err error) {
	j.once.Do(func() {
		j.res, j.err = res, err
		close(j.done)
	})
}

// Done is closed once the run has finished and the archive file is closed.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job resolves or ctx is done. Cancelling ctx only
// stops the wait; the run observes its own context.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.res, j.err
	default:
	}
	select {
	case <-j.done:
		return j.res, j.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

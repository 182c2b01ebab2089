package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/pdfsplit-web/internal/log"
)

type entry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// recorder captures every call; With accumulates fields onto a child that
// shares the same entry list.
type recorder struct {
	mu      *sync.Mutex
	entries *[]entry
	fields  []any
}

func newRecorder() *recorder {
	return &recorder{mu: &sync.Mutex{}, entries: &[]entry{}}
}

func (r *recorder) With(kv ...any) log.Logger {
	fields := append(append([]any{}, r.fields...), kv...)
	return &recorder{mu: r.mu, entries: r.entries, fields: fields}
}

func (r *recorder) add(level string, err error, msg string, kv []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, entry{level: level, msg: msg, err: err, kv: append(append([]any{}, r.fields...), kv...)})
}

func (r *recorder) Debug(_ context.Context, msg string, kv ...any) { r.add("debug", nil, msg, kv) }
func (r *recorder) Info(_ context.Context, msg string, kv ...any)  { r.add("info", nil, msg, kv) }
func (r *recorder) Warn(_ context.Context, msg string, kv ...any)  { r.add("warn", nil, msg, kv) }
func (r *recorder) Error(_ context.Context, err error, msg string, kv ...any) {
	r.add("error", err, msg, kv)
}
func (r *recorder) Sync() error { return nil }

func (r *recorder) all() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entry(nil), *r.entries...)
}

// field returns the value logged under key, searching from the end.
func (e entry) field(key string) (any, bool) {
	for i := len(e.kv) - 2; i >= 0; i -= 2 {
		if k, ok := e.kv[i].(string); ok && k == key {
			return e.kv[i+1], true
		}
	}
	return nil, false
}

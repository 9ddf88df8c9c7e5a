package async

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/nex/errors"
)

// JobHandler runs every job whose HandlerName equals Name().
//
// Execute must honour ctx: the pool cancels it on shutdown and requeues the
// job. Wrap an error with Retryable to ask for another attempt.
type JobHandler interface {
	Execute(ctx context.Context, job *Job) error
	Name() string
}

// HandlerFunc turns a function into a JobHandler named Handler.
type HandlerFunc struct {
	Handler string
	Fn      func(ctx context.Context, job *Job) error
}

func (h HandlerFunc) Name() string { return h.Handler }

func (h HandlerFunc) Execute(ctx context.Context, job *Job) error {
	if h.Fn == nil {
		return nil
	}
	return h.Fn(ctx, job)
}

// ErrNoHandler is returned for jobs whose HandlerName nobody registered.
var ErrNoHandler = errors.New("no handler registered")

// HandlerRegistry maps handler names to handlers. Safe for concurrent use.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]JobHandler)}
}

// Register adds h. Registering the same name twice is a wiring bug and panics.
func (r *HandlerRegistry) Register(h JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := h.Name()
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("async: handler %q registered twice", name))
	}
	r.handlers[name] = h
}

// Get returns the handler for name, or nil.
func (r *HandlerRegistry) Get(name string) JobHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

func (r *HandlerRegistry) Has(name string) bool { return r.Get(name) != nil }

// Names returns the registered names in sorted order.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Execute runs job through its registered handler. Unknown names return an
// error marked ErrNoHandler.
func (r *HandlerRegistry) Execute(ctx context.Context, job *Job) error {
	if job.HandlerName == "" {
		return errors.Newf("job %s has no handler_name", job.ID)
	}
	h := r.Get(job.HandlerName)
	if h == nil {
		return errors.Wrapf(ErrNoHandler, "handler %q", job.HandlerName)
	}
	return h.Execute(ctx, job)
}

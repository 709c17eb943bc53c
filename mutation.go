package swrcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	opentracing "github.com/opentracing/opentracing-go"
)

// MutationState is the lifecycle of one MutationContext. Both settled states
// are terminal.
type MutationState uint8

const (
	MutationIdle MutationState = iota
	MutationMutating
	MutationSucceeded
	MutationFailed
)

func (s MutationState) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationMutating:
		return "mutating"
	case MutationSucceeded:
		return "settled-success"
	case MutationFailed:
		return "settled-error"
	default:
		return "unknown"
	}
}

// MutationOptions configure a Mutation. Only Mutate is required.
type MutationOptions[V, Vars, R any] struct {
	// Mutate performs the remote write. It is never retried.
	Mutate func(ctx context.Context, vars Vars) (R, error)

	// Optimistic computes the value shown while Mutate runs. It runs under the
	// store lock and must not call back into the store. nil => no optimistic
	// update (and nothing to roll back).
	Optimistic func(current V, exists bool, vars Vars) V

	// Reconcile writes the server's answer into the entry before OnSuccess.
	Reconcile func(current V, result R, vars Vars) V

	OnSuccess func(result R, vars Vars)
	OnError   func(err error, vars Vars) // err is a *MutationError
	OnSettled func(result R, err error, vars Vars)

	// DisableRefetch skips MarkStale of the key after a successful mutation.
	DisableRefetch bool

	// AllowOverlap lets a mutation start while another one on the same key is
	// still running. By default it waits for the previous one to settle.
	AllowOverlap bool
}

// Mutation runs the optimistic protocol against keys of one Store:
// cancel in-flight fetch, snapshot, apply, call remote, then confirm or roll back.
type Mutation[V, Vars, R any] struct {
	store *Store[V]
	opts  MutationOptions[V, Vars, R]
}

func NewMutation[V, Vars, R any](s *Store[V], opts MutationOptions[V, Vars, R]) (*Mutation[V, Vars, R], error) {
	if s == nil {
		return nil, fmt.Errorf("swrcache: mutation requires a store")
	}
	if opts.Mutate == nil {
		return nil, fmt.Errorf("swrcache: MutationOptions.Mutate is required")
	}
	return &Mutation[V, Vars, R]{store: s, opts: opts}, nil
}

// snapshot is the pre-mutation state of an entry.
type snapshot[V any] struct {
	value    V
	raw      []byte // codec copy of value, when the store has a codec
	hasValue bool
	stale    bool
	applied  bool // an optimistic value was written
}

// MutationContext is one in-flight mutation. It always settles once started.
type MutationContext[V, Vars, R any] struct {
	ID   uuid.UUID
	Key  Key
	Vars Vars

	mu     sync.Mutex
	state  MutationState
	snap   snapshot[V]
	result R
	err    error
	done   chan struct{}
}

func (mc *MutationContext[V, Vars, R]) State() MutationState {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.state
}

// Done is closed after the context settled and every callback returned.
func (mc *MutationContext[V, Vars, R]) Done() <-chan struct{} { return mc.done }

// Wait blocks until the mutation settles or ctx is done. The mutation keeps
// running when ctx ends first.
func (mc *MutationContext[V, Vars, R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-mc.done:
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return mc.result, mc.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Snapshot returns the value the entry held when the mutation began.
func (mc *MutationContext[V, Vars, R]) Snapshot() (V, bool) {
	return mc.snap.value, mc.snap.hasValue
}

func (mc *MutationContext[V, Vars, R]) settle(state MutationState, res R, err error) {
	mc.mu.Lock()
	mc.state = state
	mc.result = res
	mc.err = err
	mc.mu.Unlock()
}

// Mutate begins a mutation on key and waits for it to settle. A remote
// failure is returned as a *MutationError after the entry was rolled back.
func (m *Mutation[V, Vars, R]) Mutate(ctx context.Context, key Key, vars Vars) (R, error) {
	mc, err := m.Begin(ctx, key, vars)
	if err != nil {
		var zero R
		return zero, err
	}
	return mc.Wait(ctx)
}

// Begin cancels any fetch for key, snapshots the entry and applies the
// optimistic value in one step, so subscribers see the new value before the
// remote call starts. It returns once the remote call has been launched.
// ctx bounds only the wait for an earlier mutation on the same key.
func (m *Mutation[V, Vars, R]) Begin(ctx context.Context, key Key, vars Vars) (*MutationContext[V, Vars, R], error) {
	if key.IsZero() {
		return nil, precondition("mutate", "", "zero key")
	}
	s := m.store
	id := key.String()
	if err := s.lockMutation(ctx, id, m.opts.AllowOverlap); err != nil {
		return nil, err
	}

	// s.mu is held
	r := s.ensureLocked(key)
	canceled := s.cancelFlightLocked(r, ErrCanceled)
	snap, err := s.snapshotLocked(r)
	if err != nil {
		s.releaseMutationLocked(id)
		s.mu.Unlock()
		return nil, err
	}
	if m.opts.Optimistic != nil {
		r.write(m.opts.Optimistic(r.value, r.hasValue, vars), s.now())
		snap.applied = true
	}
	var n notification[V]
	if canceled || snap.applied {
		n = r.notification()
	}
	s.mu.Unlock()

	deliver(n)

	mc := &MutationContext[V, Vars, R]{
		ID:    uuid.New(),
		Key:   key,
		Vars:  vars,
		state: MutationMutating,
		snap:  snap,
		done:  make(chan struct{}),
	}
	var parent opentracing.SpanContext
	if sp := opentracing.SpanFromContext(ctx); sp != nil {
		parent = sp.Context()
	}
	s.log.Debug("mutation started", Fields{"key": id, "mutation": mc.ID.String(), "optimistic": snap.applied})
	go m.run(context.WithoutCancel(ctx), mc, parent)
	return mc, nil
}

func (m *Mutation[V, Vars, R]) run(ctx context.Context, mc *MutationContext[V, Vars, R], parent opentracing.SpanContext) {
	defer close(mc.done)

	s := m.store
	span := s.startSpan("swrcache.mutate", mc.Key, parent)
	span.SetTag("mutation.id", mc.ID.String())
	res, err := m.opts.Mutate(opentracing.ContextWithSpan(ctx, span), mc.Vars)
	finishSpan(span, err)

	if err != nil {
		m.fail(mc, res, err)
		return
	}
	m.succeed(mc, res)
}

// succeed reconciles, settles and releases the key in one critical section.
// The refetch flight is installed before the release, so a queued mutation
// cancels it when it begins.
func (m *Mutation[V, Vars, R]) succeed(mc *MutationContext[V, Vars, R], res R) {
	s := m.store
	id := mc.Key.String()

	var (
		notes  []notification[V]
		starts []func()
	)
	s.mu.Lock()
	if m.opts.Reconcile != nil {
		r := s.ensureLocked(mc.Key)
		s.setLocked(r, m.opts.Reconcile(r.value, res, mc.Vars))
		if m.opts.DisableRefetch || s.closed {
			notes = append(notes, r.notification())
		}
	}
	if !m.opts.DisableRefetch && !s.closed {
		notes, starts = s.expireLocked(mc.Key.Parts(), false, notes, starts)
	}
	mc.settle(MutationSucceeded, res, nil)
	s.releaseMutationLocked(id)
	s.mu.Unlock()

	deliver(notes...)
	for _, start := range starts {
		go start()
	}

	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(res, mc.Vars)
	}
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(res, nil, mc.Vars)
	}
}

func (m *Mutation[V, Vars, R]) fail(mc *MutationContext[V, Vars, R], res R, cause error) {
	s := m.store
	id := mc.Key.String()
	merr := &MutationError{Key: id, MutationID: mc.ID, Err: cause}

	var n notification[V]
	if mc.snap.applied {
		v, err := s.restoreValue(mc.snap)
		if err != nil {
			s.log.Error("rollback: snapshot decode failed, restoring by assignment", Fields{"key": id, "err": err})
			v = mc.snap.value
		}
		s.mu.Lock()
		r := s.ensureLocked(mc.Key)
		r.write(v, s.now())
		r.hasValue = mc.snap.hasValue
		r.stale = mc.snap.stale
		n = r.notification()
		mc.settle(MutationFailed, res, merr)
		s.releaseMutationLocked(id)
		s.mu.Unlock()

		deliver(n)
		s.hooks.MutationRolledBack(id, cause)
		s.log.Info("mutation rolled back", Fields{"key": id, "mutation": mc.ID.String(), "err": cause})
	} else {
		s.mu.Lock()
		mc.settle(MutationFailed, res, merr)
		s.releaseMutationLocked(id)
		s.mu.Unlock()
	}

	if m.opts.OnError != nil {
		m.opts.OnError(merr, mc.Vars)
	}
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(res, merr, mc.Vars)
	}
}

// keyMutations counts live mutations on one key. done is closed when the
// count drops back to zero.
type keyMutations struct {
	live int
	done chan struct{}
}

// lockMutation waits until a mutation may start on id and returns with s.mu
// held on success.
func (s *Store[V]) lockMutation(ctx context.Context, id string, overlap bool) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		km := s.mutations[id]
		if km == nil {
			km = &keyMutations{done: make(chan struct{})}
			s.mutations[id] = km
		}
		if km.live == 0 || overlap {
			km.live++
			return nil
		}
		done := km.done
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Store[V]) releaseMutationLocked(id string) {
	km := s.mutations[id]
	if km == nil {
		return
	}
	km.live--
	if km.live <= 0 {
		close(km.done)
		delete(s.mutations, id)
	}
}

func (s *Store[V]) snapshotLocked(r *record[V]) (snapshot[V], error) {
	sn := snapshot[V]{value: r.value, hasValue: r.hasValue, stale: r.stale}
	if s.codec != nil && r.hasValue {
		b, err := s.codec.Encode(r.value)
		if err != nil {
			return sn, fmt.Errorf("swrcache: snapshot %q: %w", r.key.String(), err)
		}
		sn.raw = b
	}
	return sn, nil
}

func (s *Store[V]) restoreValue(sn snapshot[V]) (V, error) {
	if sn.raw == nil {
		return sn.value, nil
	}
	return s.codec.Decode(sn.raw)
}

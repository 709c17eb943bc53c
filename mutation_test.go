package swrcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
)

type toggle struct {
	Done bool
}

// remote is a controllable Mutate func.
type remote struct {
	started chan toggle
	answer  chan error
}

func newRemote() *remote {
	return &remote{started: make(chan toggle, 8), answer: make(chan error, 8)}
}

func (r *remote) call(_ context.Context, v toggle) (todo, error) {
	r.started <- v
	if err := <-r.answer; err != nil {
		return todo{}, err
	}
	return todo{ID: 1, Title: "server", Done: v.Done}, nil
}

func (r *remote) awaitStart(t *testing.T) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("remote call did not start")
	}
}

func toggleOptions(r *remote) MutationOptions[todo, toggle, todo] {
	return MutationOptions[todo, toggle, todo]{
		Mutate: r.call,
		Optimistic: func(cur todo, _ bool, v toggle) todo {
			cur.Done = v.Done
			return cur
		},
	}
}

func TestMutation_OptimisticThenRollback(t *testing.T) {
	hooks := newRecHooks()
	s := newTodoStore(t, func(o *Options[todo]) { o.Hooks = hooks })
	k := MustKey("todo", "1")
	base, _ := s.Set(k, todo{ID: 1, Title: "t", Done: false})

	r := newRemote()
	var (
		mu       sync.Mutex
		gotErr   error
		settled  int
		rollback bool
	)
	opts := toggleOptions(r)
	opts.OnError = func(err error, _ toggle) {
		mu.Lock()
		gotErr = err
		mu.Unlock()
	}
	opts.OnSettled = func(_ todo, err error, _ toggle) {
		mu.Lock()
		settled++
		rollback = err != nil
		mu.Unlock()
	}
	m, err := NewMutation(s, opts)
	if err != nil {
		t.Fatal(err)
	}

	mc, err := m.Begin(context.Background(), k, toggle{Done: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	// visible before the remote call returns
	if e, _ := s.Get(k); !e.Value.Done || e.Revision <= base.Revision {
		t.Fatalf("optimistic value not applied: %+v", e)
	}
	if mc.State() != MutationMutating {
		t.Fatalf("state=%v", mc.State())
	}
	r.awaitStart(t)

	rejected := errors.New("422 rejected")
	r.answer <- rejected
	_, err = mc.Wait(context.Background())

	var merr *MutationError
	if !errors.As(err, &merr) || !errors.Is(err, rejected) || merr.MutationID != mc.ID {
		t.Fatalf("Wait err=%v", err)
	}
	if mc.State() != MutationFailed || mc.State().String() != "settled-error" {
		t.Fatalf("state=%v", mc.State())
	}
	e, _ := s.Get(k)
	if e.Value.Done || e.Value.Title != "t" {
		t.Fatalf("not rolled back: %+v", e.Value)
	}
	if e.Revision <= base.Revision+1 {
		t.Fatalf("rollback did not take a new revision: %d", e.Revision)
	}
	if snap, ok := mc.Snapshot(); !ok || snap.Done {
		t.Fatalf("snapshot=%+v ok=%v", snap, ok)
	}

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(gotErr, rejected) || settled != 1 || !rollback {
		t.Fatalf("callbacks: err=%v settled=%d", gotErr, settled)
	}
	if hooks.count("rolledback") != 1 {
		t.Fatalf("MutationRolledBack calls=%d", hooks.count("rolledback"))
	}
}

func TestMutation_SuccessReconcilesAndMarksStale(t *testing.T) {
	s := newTodoStore(t, nil)
	k := MustKey("todo", "1")
	_, _ = s.Set(k, todo{ID: 1, Title: "t"})

	r := newRemote()
	var order []string
	opts := toggleOptions(r)
	opts.Reconcile = func(_ todo, res todo, _ toggle) todo { return res }
	opts.OnSuccess = func(res todo, _ toggle) { order = append(order, "success:"+res.Title) }
	opts.OnSettled = func(_ todo, err error, _ toggle) {
		if err == nil {
			order = append(order, "settled")
		}
	}
	m, _ := NewMutation(s, opts)

	r.answer <- nil
	res, err := m.Mutate(context.Background(), k, toggle{Done: true})
	if err != nil || res.Title != "server" {
		t.Fatalf("Mutate: %+v %v", res, err)
	}
	e, _ := s.Get(k)
	if e.Value.Title != "server" || !e.Value.Done {
		t.Fatalf("not reconciled: %+v", e.Value)
	}
	if !e.Stale {
		t.Fatal("entry not marked stale after success")
	}
	if len(order) != 2 || order[0] != "success:server" || order[1] != "settled" {
		t.Fatalf("callback order=%v", order)
	}
}

func TestMutation_DisableRefetch(t *testing.T) {
	s := newTodoStore(t, nil)
	k := MustKey("todo", "1")
	_, _ = s.Set(k, todo{ID: 1})

	r := newRemote()
	opts := toggleOptions(r)
	opts.DisableRefetch = true
	m, _ := NewMutation(s, opts)
	r.answer <- nil
	if _, err := m.Mutate(context.Background(), k, toggle{Done: true}); err != nil {
		t.Fatal(err)
	}
	if e, _ := s.Get(k); e.Stale || !e.Value.Done {
		t.Fatalf("entry=%+v", e)
	}
}

func TestMutation_CancelsInFlightFetch(t *testing.T) {
	s := newTodoStore(t, nil)
	g := newGate[todo]()
	k := MustKey("todo", "1")

	first := goQuery(s, k, g.fetch)
	g.awaitStart(t)
	g.ok(todo{ID: 1})
	recv(t, first)

	ch := goQuery(s, k, nil)
	g.awaitStart(t)

	r := newRemote()
	opts := toggleOptions(r)
	opts.DisableRefetch = true
	m, _ := NewMutation(s, opts)
	mc, err := m.Begin(context.Background(), k, toggle{Done: true})
	if err != nil {
		t.Fatal(err)
	}
	if q := recv(t, ch); !errors.Is(q.err, ErrCanceled) {
		t.Fatalf("query err=%v want canceled", q.err)
	}
	e, _ := s.Get(k)
	if e.Status != StatusSuccess || !e.Value.Done {
		t.Fatalf("entry after begin: %+v", e)
	}
	r.awaitStart(t)
	r.answer <- nil
	if _, err := mc.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMutation_FailureWithoutOptimisticKeepsValue(t *testing.T) {
	s := newTodoStore(t, nil)
	k := MustKey("todo", "1")
	before, _ := s.Set(k, todo{ID: 1, Title: "t"})

	r := newRemote()
	m, _ := NewMutation(s, MutationOptions[todo, toggle, todo]{Mutate: r.call})
	r.answer <- errors.New("down")
	if _, err := m.Mutate(context.Background(), k, toggle{}); err == nil {
		t.Fatal("want error")
	}
	if e, _ := s.Get(k); e.Revision != before.Revision || e.Stale {
		t.Fatalf("entry touched by a failed non-optimistic mutation: %+v", e)
	}
}

func TestMutation_RollbackOfMissingEntry(t *testing.T) {
	s := newTodoStore(t, nil)
	k := MustKey("todo", "new")

	r := newRemote()
	m, _ := NewMutation(s, MutationOptions[todo, toggle, todo]{
		Mutate: r.call,
		Optimistic: func(_ todo, exists bool, v toggle) todo {
			if exists {
				t.Error("entry reported as existing")
			}
			return todo{Title: "draft", Done: v.Done}
		},
	})
	mc, _ := m.Begin(context.Background(), k, toggle{Done: true})
	if e, _ := s.Get(k); !e.HasValue || e.Value.Title != "draft" {
		t.Fatalf("optimistic create: %+v", e)
	}
	r.awaitStart(t)
	r.answer <- errors.New("rejected")
	_, _ = mc.Wait(context.Background())

	if e, _ := s.Get(k); e.HasValue {
		t.Fatalf("rollback left a value: %+v", e)
	}
}

func TestMutation_SerializedPerKey(t *testing.T) {
	s := newTodoStore(t, nil)
	k := MustKey("todo", "1")
	_, _ = s.Set(k, todo{ID: 1})

	r := newRemote()
	opts := toggleOptions(r)
	opts.DisableRefetch = true
	m, _ := NewMutation(s, opts)

	first, _ := m.Begin(context.Background(), k, toggle{Done: true})
	r.awaitStart(t)

	second := make(chan *MutationContext[todo, toggle, todo], 1)
	go func() {
		mc, _ := m.Begin(context.Background(), k, toggle{Done: false})
		second <- mc
	}()

	select {
	case <-second:
		t.Fatal("second mutation started while the first was running")
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Begin(ctx, k, toggle{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("bounded Begin: %v", err)
	}

	r.answer <- nil
	_, _ = first.Wait(context.Background())
	mc := <-second
	r.awaitStart(t)
	r.answer <- nil
	_, _ = mc.Wait(context.Background())
	if e, _ := s.Get(k); e.Value.Done {
		t.Fatalf("last mutation did not win: %+v", e.Value)
	}
}

func TestMutation_QueuedBeginCancelsRefetchOfPrevious(t *testing.T) {
	s := newTodoStore(t, nil)
	g := newGate[todo]()
	k := MustKey("todo", "1")

	ch := goQuery(s, k, g.fetch)
	g.awaitStart(t)
	g.ok(todo{ID: 1, Title: "A"})
	recv(t, ch)
	sub, err := s.Subscribe(k, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	answers := make(chan error, 2)
	rename := func(_ context.Context, title string) (todo, error) {
		if err := <-answers; err != nil {
			return todo{}, err
		}
		return todo{ID: 1, Title: title}, nil
	}
	retitle := func(cur todo, _ bool, title string) todo {
		cur.Title = title
		return cur
	}

	secondBegan := make(chan struct{})
	m1, _ := NewMutation(s, MutationOptions[todo, string, todo]{
		Mutate:     rename,
		Optimistic: retitle,
		OnSuccess:  func(todo, string) { <-secondBegan },
	})
	m2, _ := NewMutation(s, MutationOptions[todo, string, todo]{
		Mutate:         rename,
		Optimistic:     retitle,
		DisableRefetch: true,
	})

	first, err := m1.Begin(context.Background(), k, "X")
	if err != nil {
		t.Fatal(err)
	}

	type begun struct {
		mc         *MutationContext[todo, string, todo]
		firstState MutationState
	}
	second := make(chan begun, 1)
	go func() {
		mc, err := m2.Begin(context.Background(), k, "B")
		if err != nil {
			t.Error(err)
		}
		second <- begun{mc: mc, firstState: first.State()}
		close(secondBegan)
	}()

	answers <- nil
	var b begun
	select {
	case b = <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second mutation did not begin")
	}
	if b.firstState != MutationSucceeded {
		t.Fatalf("second began while first state=%v", b.firstState)
	}

	// the refetch started by the first success is canceled by the second Begin
	waitFor(t, func() bool { return g.returned() == 2 })
	if e, _ := s.Get(k); e.Value.Title != "B" {
		t.Fatalf("optimistic value overwritten while in flight: %+v", e.Value)
	}

	answers <- nil
	if _, err := b.mc.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-first.Done()
	if e, _ := s.Get(k); e.Value.Title != "B" {
		t.Fatalf("final value=%+v", e.Value)
	}
}

func TestMutation_RollbackIsByteExactWithCodec(t *testing.T) {
	type list struct {
		Items []string `json:"items"`
	}
	s := newTestStore(t, func(o *Options[list]) { o.Codec = c.JSON[list]{} })
	k := MustKey("list")
	_, _ = s.Set(k, list{Items: []string{"a", "b"}})

	r := make(chan error, 1)
	m, _ := NewMutation(s, MutationOptions[list, string, struct{}]{
		Mutate: func(context.Context, string) (struct{}, error) { return struct{}{}, <-r },
		Optimistic: func(cur list, _ bool, v string) list {
			cur.Items[0] = v // mutates the shared backing array
			return cur
		},
	})
	r <- errors.New("no")
	_, _ = m.Mutate(context.Background(), k, "z")

	e, _ := s.Get(k)
	if e.Value.Items[0] != "a" {
		t.Fatalf("rollback restored the mutated slice: %v", e.Value.Items)
	}
}

func TestNewMutation_Validation(t *testing.T) {
	s := newTodoStore(t, nil)
	if _, err := NewMutation(s, MutationOptions[todo, toggle, todo]{}); err == nil {
		t.Fatal("missing Mutate accepted")
	}
	if _, err := NewMutation[todo, toggle, todo](nil, MutationOptions[todo, toggle, todo]{Mutate: newRemote().call}); err == nil {
		t.Fatal("nil store accepted")
	}
	m, _ := NewMutation(s, MutationOptions[todo, toggle, todo]{Mutate: newRemote().call})
	if _, err := m.Begin(context.Background(), Key{}, toggle{}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("zero key: %v", err)
	}
}

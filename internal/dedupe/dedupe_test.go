package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/scout/internal/types"
)

type payload struct{ n int }

func TestDo_ConcurrentCallersShareOneExecution(t *testing.T) {
	var g Group[*payload]
	var runs, arrived atomic.Int32
	release := make(chan struct{})

	const callers = 8
	results := make([]*payload, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arrived.Add(1)
			v, _, err := g.Do(context.Background(), "k", func() (*payload, error) {
				runs.Add(1)
				<-release
				return &payload{n: 42}, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = v
		}()
	}

	// wait until everyone is either running or waiting on the flight
	deadline := time.Now().Add(2 * time.Second)
	for (g.Pending() != 1 || arrived.Load() != callers) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("expected exactly one execution, got %d", runs.Load())
	}
	for i, v := range results {
		if v != results[0] {
			t.Errorf("caller %d got a different pointer", i)
		}
	}
	if g.Pending() != 0 {
		t.Errorf("expected key removed after settle, %d pending", g.Pending())
	}
}

func TestDo_ErrorIsSharedAndKeyRemoved(t *testing.T) {
	var g Group[int]
	boom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})

	var leaderErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, leaderErr = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 0, boom
		})
	}()
	<-started

	waiterDone := make(chan error)
	go func() {
		_, shared, err := g.Do(context.Background(), "k", func() (int, error) {
			t.Error("waiter must not execute")
			return 0, nil
		})
		if !shared {
			t.Error("expected waiter to share the flight")
		}
		waiterDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-waiterDone; !errors.Is(err, boom) {
		t.Errorf("waiter err = %v", err)
	}
	<-done
	if !errors.Is(leaderErr, boom) {
		t.Errorf("leader err = %v", leaderErr)
	}
	if g.Pending() != 0 {
		t.Error("key must be removed after failure")
	}

	// a fresh call after settle runs again
	v, shared, err := g.Do(context.Background(), "k", func() (int, error) { return 7, nil })
	if v != 7 || shared || err != nil {
		t.Errorf("fresh call = %d %v %v", v, shared, err)
	}
}

func TestDo_PanicSettlesAndRepanics(t *testing.T) {
	var g Group[int]
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate to the leader")
			}
		}()
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) { panic("bad") })
	}()
	if g.Pending() != 0 {
		t.Error("key must be removed after panic")
	}
}

func TestDo_WaiterContextCancel(t *testing.T) {
	var g Group[int]
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "k", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Do(ctx, "k", func() (int, error) { return 0, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStartSettle(t *testing.T) {
	var g Group[*payload]
	inits := 0
	init := func() *payload { inits++; return &payload{n: inits} }

	f1, leader1 := g.Start("k", init)
	f2, leader2 := g.Start("k", init)
	if !leader1 || leader2 {
		t.Fatalf("leader flags = %v %v", leader1, leader2)
	}
	if f1 != f2 || f1.Value() != f2.Value() || inits != 1 {
		t.Fatal("followers must share the leader's flight and value")
	}

	g.Settle(f1, nil)
	g.Settle(f1, errors.New("ignored"))
	select {
	case <-f2.Done():
	default:
		t.Fatal("Done must be closed after Settle")
	}
	if f2.Err() != nil {
		t.Errorf("second Settle must be a no-op, got %v", f2.Err())
	}

	f3, leader3 := g.Start("k", init)
	if !leader3 || f3 == f1 {
		t.Error("a settled key must start a new flight")
	}
	g.Settle(f3, nil)
}

func TestFingerprint(t *testing.T) {
	at := time.Unix(1700000000, 100)
	base := func() *types.ChatRequest {
		return &types.ChatRequest{
			ID:         "chat-1",
			Model:      "scout-default",
			Group:      "web",
			ReceivedAt: at,
			Messages:   []types.Message{{Role: types.RoleUser, Content: "what is  go?"}},
		}
	}

	a := Fingerprint(base(), time.Second)

	same := base()
	same.Messages[0].Content = " what is go? "
	same.ReceivedAt = at.Add(500 * time.Millisecond)
	if Fingerprint(same, time.Second) != a {
		t.Error("whitespace and same-second arrival must collide")
	}

	mutations := map[string]func(r *types.ChatRequest){
		"chat id":  func(r *types.ChatRequest) { r.ID = "chat-2" },
		"model":    func(r *types.ChatRequest) { r.Model = "scout-4o" },
		"group":    func(r *types.ChatRequest) { r.Group = "academic" },
		"content":  func(r *types.ChatRequest) { r.Messages[0].Content = "what is rust?" },
		"count":    func(r *types.ChatRequest) { r.Messages = append(r.Messages, types.Message{Role: types.RoleUser, Content: "x"}) },
		"next sec": func(r *types.ChatRequest) { r.ReceivedAt = at.Add(time.Second) },
	}
	for name, mutate := range mutations {
		r := base()
		mutate(r)
		if Fingerprint(r, time.Second) == a {
			t.Errorf("%s change must alter the fingerprint", name)
		}
	}
}

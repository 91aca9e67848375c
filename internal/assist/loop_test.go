package assist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"valet/internal/bus"
	"valet/internal/domain"
	"valet/internal/intent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRouter struct {
	result domain.RoutingResult
	err    error
	mu     sync.Mutex
	reqs   []intent.RouteRequest
}

func (f *fakeRouter) Route(ctx context.Context, req intent.RouteRequest) (domain.RoutingResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.result, f.err
}

type fakeGate struct {
	state domain.ApprovalState
	err   error
	calls int
}

func (f *fakeGate) Request(ctx context.Context, chatID string, result domain.RoutingResult, message string) (domain.ApprovalState, error) {
	f.calls++
	return f.state, f.err
}

type fakeLookup map[string]domain.SkillDescriptor

func (f fakeLookup) GetByID(id string) (domain.SkillDescriptor, bool) {
	sk, ok := f[id]
	return sk, ok
}

type staticExecutor struct {
	reply string
	err   error
	calls int
}

func (e *staticExecutor) Execute(ctx context.Context, skill domain.SkillDescriptor, result domain.RoutingResult, msg domain.InboundMessage) (string, error) {
	e.calls++
	return e.reply, e.err
}

func testSkills() fakeLookup {
	return fakeLookup{
		"general": {ID: "general", Name: "General Chat", AutonomyLevel: domain.AutonomyFull, Enabled: true},
		"email":   {ID: "email", Name: "Email", AutonomyLevel: domain.AutonomyApprovalRequired, Enabled: true},
	}
}

func TestProcessDirectFullAutonomy(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "general", Confidence: 1.0}}
	ex := &staticExecutor{reply: "hello from the model"}
	gate := &fakeGate{state: domain.ApprovalApproved}

	loop := NewLoop(LoopConfig{
		Router:    router,
		Gate:      gate,
		Skills:    testSkills(),
		Executors: NewExecutorSet(ex),
		Bus:       bus.New(16, testLogger()),
		Logger:    testLogger(),
	})

	reply, err := loop.ProcessDirect(context.Background(), "hi", "cli", "local")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if reply != "hello from the model" {
		t.Errorf("reply = %q", reply)
	}
	if gate.calls != 0 {
		t.Error("gate consulted for a full-autonomy skill")
	}
	if len(router.reqs) != 1 || router.reqs[0].ConversationID != "cli:local" {
		t.Errorf("route requests = %+v", router.reqs)
	}
}

func TestApprovalDeniedSkipsExecution(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "email", RequiresApproval: true}}
	ex := &staticExecutor{reply: "sent"}
	gate := &fakeGate{state: domain.ApprovalDenied}

	loop := NewLoop(LoopConfig{
		Router:    router,
		Gate:      gate,
		Skills:    testSkills(),
		Executors: NewExecutorSet(ex),
		Bus:       bus.New(16, testLogger()),
		Logger:    testLogger(),
	})

	reply, err := loop.ProcessDirect(context.Background(), "send a mail to bob", "cli", "local")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if ex.calls != 0 {
		t.Error("executor ran despite denied approval")
	}
	if !strings.Contains(reply, "cancelled") {
		t.Errorf("reply = %q, want cancellation notice", reply)
	}
}

func TestApprovalExpiredReportsTimeout(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "email", RequiresApproval: true}}
	ex := &staticExecutor{reply: "sent"}
	gate := &fakeGate{state: domain.ApprovalExpired}

	loop := NewLoop(LoopConfig{
		Router:    router,
		Gate:      gate,
		Skills:    testSkills(),
		Executors: NewExecutorSet(ex),
		Bus:       bus.New(16, testLogger()),
		Logger:    testLogger(),
	})

	reply, err := loop.ProcessDirect(context.Background(), "send a mail", "cli", "local")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if ex.calls != 0 {
		t.Error("executor ran despite expired approval")
	}
	if !strings.Contains(reply, "timed out") {
		t.Errorf("reply = %q, want timeout notice", reply)
	}
}

func TestApprovalApprovedExecutes(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "email", RequiresApproval: true}}
	ex := &staticExecutor{reply: "email sent"}
	gate := &fakeGate{state: domain.ApprovalApproved}

	loop := NewLoop(LoopConfig{
		Router:    router,
		Gate:      gate,
		Skills:    testSkills(),
		Executors: NewExecutorSet(ex),
		Bus:       bus.New(16, testLogger()),
		Logger:    testLogger(),
	})

	reply, err := loop.ProcessDirect(context.Background(), "send a mail", "cli", "local")
	if err != nil {
		t.Fatalf("ProcessDirect: %v", err)
	}
	if gate.calls != 1 {
		t.Errorf("gate calls = %d, want 1", gate.calls)
	}
	if reply != "email sent" {
		t.Errorf("reply = %q", reply)
	}
}

func TestRouterErrorSurfaces(t *testing.T) {
	router := &fakeRouter{err: errors.New("registry empty")}
	loop := NewLoop(LoopConfig{
		Router:    router,
		Skills:    testSkills(),
		Executors: NewExecutorSet(&staticExecutor{}),
		Bus:       bus.New(16, testLogger()),
		Logger:    testLogger(),
	})

	_, err := loop.ProcessDirect(context.Background(), "hi", "cli", "local")
	if err == nil {
		t.Fatal("expected error from router")
	}
}

func TestRunRepliesOverBus(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "general"}}
	b := bus.New(16, testLogger())
	defer b.Close()

	loop := NewLoop(LoopConfig{
		Router:    router,
		Skills:    testSkills(),
		Executors: NewExecutorSet(&staticExecutor{reply: "pong"}),
		Bus:       b,
		Logger:    testLogger(),
	})

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		got <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	b.Publish(domain.InboundMessage{
		Channel:        "telegram",
		ChatID:         "42",
		ConversationID: "telegram:42",
		Content:        "ping",
		Timestamp:      time.Now(),
	})

	select {
	case msg := <-got:
		if msg.Content != "pong" {
			t.Errorf("outbound content = %q", msg.Content)
		}
		if msg.ChatID != "42" {
			t.Errorf("outbound chatID = %q", msg.ChatID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message within timeout")
	}
}

func TestExecutorErrorRepliesWithApology(t *testing.T) {
	router := &fakeRouter{result: domain.RoutingResult{SkillID: "general"}}
	b := bus.New(16, testLogger())
	defer b.Close()

	loop := NewLoop(LoopConfig{
		Router:    router,
		Skills:    testSkills(),
		Executors: NewExecutorSet(&staticExecutor{err: errors.New("provider down")}),
		Bus:       b,
		Logger:    testLogger(),
	})

	got := make(chan domain.OutboundMessage, 1)
	b.OnOutbound("cli", func(msg domain.OutboundMessage) { got <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	b.Publish(domain.InboundMessage{Channel: "cli", ChatID: "local", Content: "hi"})

	select {
	case msg := <-got:
		if !strings.Contains(msg.Content, "something went wrong") {
			t.Errorf("reply = %q, want error apology", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound message within timeout")
	}
}

func TestExecutorSetDispatch(t *testing.T) {
	def := &staticExecutor{reply: "default"}
	mail := &staticExecutor{reply: "mail"}
	set := NewExecutorSet(def)
	set.Register("email", mail)

	if set.For("email") != mail {
		t.Error("email not dispatched to registered executor")
	}
	if set.For("unknown") != def {
		t.Error("unknown skill not dispatched to default executor")
	}
}

func TestAckExecutorNamesSkillAndParams(t *testing.T) {
	ex := NewAckExecutor(testLogger())
	reply, err := ex.Execute(context.Background(),
		domain.SkillDescriptor{ID: "calendar", Name: "Calendar"},
		domain.RoutingResult{ExtractedParams: map[string]string{"time": "3pm", "person": "John"}},
		domain.InboundMessage{Content: "schedule a meeting"},
	)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"Calendar", "time: 3pm", "person: John"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply %q missing %q", reply, want)
		}
	}
}

package approval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"valet/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// memStore is an in-memory domain.ApprovalStore.
type memStore struct {
	mu        sync.Mutex
	approvals map[string]domain.Approval
	createErr error
}

func newMemStore() *memStore {
	return &memStore{approvals: make(map[string]domain.Approval)}
}

func (m *memStore) CreateApproval(ctx context.Context, a domain.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.approvals[a.ID] = a
	return nil
}

func (m *memStore) ResolveApproval(ctx context.Context, id string, state domain.ApprovalState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return fmt.Errorf("approval %s not found", id)
	}
	if a.State != domain.ApprovalPending {
		return fmt.Errorf("approval %s is not pending", id)
	}
	a.State = state
	m.approvals[id] = a
	return nil
}

func (m *memStore) ListPendingApprovals(ctx context.Context) ([]domain.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Approval
	for _, a := range m.approvals {
		if a.State == domain.ApprovalPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) states() []domain.ApprovalState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ApprovalState
	for _, a := range m.approvals {
		out = append(out, a.State)
	}
	return out
}

func gatedResult() domain.RoutingResult {
	return domain.RoutingResult{SkillID: "calendar", Confidence: 0.8, RequiresApproval: true}
}

func TestRequest_Approved(t *testing.T) {
	store := newMemStore()
	g := NewGate(GateConfig{
		Store: store,
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			return true, nil
		},
		Logger: testLogger(),
	})

	state, err := g.Request(context.Background(), "42", gatedResult(), "schedule a meeting")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.ApprovalApproved {
		t.Errorf("expected approved, got %s", state)
	}
	if states := store.states(); len(states) != 1 || states[0] != domain.ApprovalApproved {
		t.Errorf("store state not updated: %v", states)
	}
}

func TestRequest_Denied(t *testing.T) {
	g := NewGate(GateConfig{
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			return false, nil
		},
		Logger: testLogger(),
	})

	state, err := g.Request(context.Background(), "42", gatedResult(), "send it")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.ApprovalDenied {
		t.Errorf("expected denied, got %s", state)
	}
}

func TestRequest_TimeoutExpires(t *testing.T) {
	store := newMemStore()
	g := NewGate(GateConfig{
		Store: store,
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
		Timeout: 20 * time.Millisecond,
		Logger:  testLogger(),
	})

	state, err := g.Request(context.Background(), "42", gatedResult(), "slow one")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.ApprovalExpired {
		t.Errorf("expected expired, got %s", state)
	}
	if states := store.states(); len(states) != 1 || states[0] != domain.ApprovalExpired {
		t.Errorf("store state not updated: %v", states)
	}
}

func TestRequest_NoHandlerDenies(t *testing.T) {
	g := NewGate(GateConfig{Logger: testLogger()})

	state, err := g.Request(context.Background(), "42", gatedResult(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.ApprovalDenied {
		t.Errorf("expected denied without handler, got %s", state)
	}
}

func TestRequest_ConfirmErrorDeniesAndSurfaces(t *testing.T) {
	store := newMemStore()
	g := NewGate(GateConfig{
		Store: store,
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			return false, fmt.Errorf("channel gone")
		},
		Logger: testLogger(),
	})

	state, err := g.Request(context.Background(), "42", gatedResult(), "anything")
	if err == nil {
		t.Fatal("transport failure must surface to the caller")
	}
	if !strings.Contains(err.Error(), "channel gone") {
		t.Errorf("err = %v, want wrapped transport error", err)
	}
	if state != domain.ApprovalDenied {
		t.Errorf("expected denied on confirm error, got %s", state)
	}
	if states := store.states(); len(states) != 1 || states[0] != domain.ApprovalDenied {
		t.Errorf("store state not updated: %v", states)
	}
}

func TestRequest_StoreFailureDoesNotBlock(t *testing.T) {
	store := newMemStore()
	store.createErr = fmt.Errorf("disk full")
	g := NewGate(GateConfig{
		Store: store,
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			return true, nil
		},
		Logger: testLogger(),
	})

	state, err := g.Request(context.Background(), "42", gatedResult(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if state != domain.ApprovalApproved {
		t.Errorf("store failure must not change the outcome, got %s", state)
	}
}

func TestRequest_QuestionNamesSkill(t *testing.T) {
	var captured string
	g := NewGate(GateConfig{
		Confirm: func(ctx context.Context, chatID, question string) (bool, error) {
			captured = question
			return true, nil
		},
		Logger: testLogger(),
	})

	if _, err := g.Request(context.Background(), "42", gatedResult(), "schedule it"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(captured, "calendar") || !strings.Contains(captured, "schedule it") {
		t.Errorf("question must name the skill and request: %q", captured)
	}
}

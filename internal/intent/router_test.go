package intent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"valet/internal/domain"
	"valet/internal/skill"
)

// fakeSink implements domain.AuditSink and records entries.
type fakeSink struct {
	entries []domain.AuditEntry
	err     error
}

func (f *fakeSink) RecordRouting(ctx context.Context, e domain.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func newTestRouter(t *testing.T, reg *skill.Registry, ai *AIClassifier, sink domain.AuditSink) *Router {
	t.Helper()
	return NewRouter(RouterConfig{
		Registry: reg,
		Keyword:  NewKeywordClassifier(reg, testLogger()),
		AI:       ai,
		Audit:    sink,
		Logger:   testLogger(),
	})
}

func TestRoute_KeywordPath_ApprovalRequired(t *testing.T) {
	reg := testRegistry(t, routingSet())
	sink := &fakeSink{}
	router := newTestRouter(t, reg, nil, sink)

	res, err := router.Route(context.Background(), RouteRequest{
		Message:        "Schedule a meeting with John tomorrow at 2pm",
		ConversationID: "conv-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillID != "calendar" {
		t.Errorf("expected calendar, got %s", res.SkillID)
	}
	if !res.RequiresApproval {
		t.Error("calendar routing must flag requires_approval")
	}
}

func TestRoute_LazyLoadsRegistry(t *testing.T) {
	reg := skill.NewRegistry(skill.RegistryConfig{
		Store:  &fakeStore{err: fmt.Errorf("store down")},
		Logger: testLogger(),
	})
	router := newTestRouter(t, reg, nil, nil)

	// Registry never loaded explicitly; Route must load-if-empty and the
	// failing store must substitute built-ins.
	res, err := router.Route(context.Background(), RouteRequest{Message: "hello there"})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillID != "general" {
		t.Errorf("expected general from built-ins, got %s", res.SkillID)
	}
}

func TestRoute_ExactlyOneAuditEntryPerCall(t *testing.T) {
	reg := testRegistry(t, routingSet())
	sink := &fakeSink{}
	router := newTestRouter(t, reg, nil, sink)

	for i := 0; i < 3; i++ {
		if _, err := router.Route(context.Background(), RouteRequest{
			Message:        "price of NVDA",
			ConversationID: "conv-7",
		}); err != nil {
			t.Fatal(err)
		}
	}
	if len(sink.entries) != 3 {
		t.Fatalf("expected 3 audit entries for 3 calls, got %d", len(sink.entries))
	}
	e := sink.entries[0]
	if e.SkillID != "market" || e.Path != "keyword" || e.ConversationID != "conv-7" {
		t.Errorf("unexpected audit entry: %+v", e)
	}
	if e.MessagePreview == "" {
		t.Error("audit entry missing message preview")
	}
}

func TestRoute_AuditFailureDoesNotAbortRouting(t *testing.T) {
	reg := testRegistry(t, routingSet())
	router := newTestRouter(t, reg, nil, &fakeSink{err: fmt.Errorf("disk full")})

	res, err := router.Route(context.Background(), RouteRequest{Message: "price of NVDA"})
	if err != nil {
		t.Fatalf("audit failure must not surface: %v", err)
	}
	if res.SkillID != "market" {
		t.Errorf("expected market, got %s", res.SkillID)
	}
}

func TestRoute_AuditPreviewTruncated(t *testing.T) {
	reg := testRegistry(t, routingSet())
	sink := &fakeSink{}
	router := newTestRouter(t, reg, nil, sink)

	long := strings.Repeat("price of everything ", 20)
	if _, err := router.Route(context.Background(), RouteRequest{Message: long}); err != nil {
		t.Fatal(err)
	}
	if got := len([]rune(sink.entries[0].MessagePreview)); got > defaultPreviewLength+3 {
		t.Errorf("preview not truncated: %d runes", got)
	}
}

func TestRoute_AIPath_UnknownSkillRoutesToFallback(t *testing.T) {
	reg := testRegistry(t, routingSet())
	p := &fakeProvider{response: `{"primaryIntent":"teleporter","confidence":0.99}`}
	ai := NewAIClassifier(AIClassifierConfig{
		Registry: reg,
		Keyword:  NewKeywordClassifier(reg, testLogger()),
		Provider: p,
		Logger:   testLogger(),
	})
	sink := &fakeSink{}
	router := newTestRouter(t, reg, ai, sink)

	res, err := router.Route(context.Background(), RouteRequest{Message: "beam me up", UseAI: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillID != "general" {
		t.Errorf("hallucinated skill id must resolve to fallback, got %s", res.SkillID)
	}
	if res.RequiresApproval {
		t.Error("fallback skill is full autonomy")
	}
	if len(sink.entries) != 1 || sink.entries[0].SkillID != "general" {
		t.Errorf("audit must record the resolved skill: %+v", sink.entries)
	}
}

func TestRoute_AIPath_DisabledSkillRoutesToFallback(t *testing.T) {
	set := routingSet()
	set[0].Enabled = false
	reg := testRegistry(t, set)
	p := &fakeProvider{response: `{"primaryIntent":"market","confidence":0.9}`}
	ai := NewAIClassifier(AIClassifierConfig{
		Registry: reg,
		Keyword:  NewKeywordClassifier(reg, testLogger()),
		Provider: p,
		Logger:   testLogger(),
	})
	router := newTestRouter(t, reg, ai, nil)

	res, err := router.Route(context.Background(), RouteRequest{Message: "price of NVDA", UseAI: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillID != "general" {
		t.Errorf("disabled skill must not be routable, got %s", res.SkillID)
	}
}

func TestRoute_AIProviderError_EqualsKeywordResult(t *testing.T) {
	reg := testRegistry(t, routingSet())
	kw := NewKeywordClassifier(reg, testLogger())
	ai := NewAIClassifier(AIClassifierConfig{
		Registry: reg,
		Keyword:  kw,
		Provider: &fakeProvider{err: fmt.Errorf("network error")},
		Logger:   testLogger(),
	})
	router := newTestRouter(t, reg, ai, nil)

	msg := "What's the price of NVDA?"
	aiRes, err := router.Route(context.Background(), RouteRequest{Message: msg, UseAI: true})
	if err != nil {
		t.Fatal(err)
	}
	kwRes := kw.Classify(context.Background(), msg)[0]

	if aiRes.SkillID != kwRes.SkillID || aiRes.Confidence != kwRes.Confidence {
		t.Errorf("degraded AI route %+v must equal keyword result %+v", aiRes, kwRes)
	}
	if aiRes.Reasoning != keywordFallbackReason {
		t.Errorf("reasoning must document the degrade, got %q", aiRes.Reasoning)
	}
}

func TestRoute_UseAIWithoutClassifierFallsBackToKeyword(t *testing.T) {
	reg := testRegistry(t, routingSet())
	sink := &fakeSink{}
	router := newTestRouter(t, reg, nil, sink)

	res, err := router.Route(context.Background(), RouteRequest{Message: "price of NVDA", UseAI: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillID != "market" {
		t.Errorf("expected market via keyword path, got %s", res.SkillID)
	}
	if sink.entries[0].Path != "keyword" {
		t.Errorf("audit path must be keyword, got %s", sink.entries[0].Path)
	}
}

func TestRoute_ResultSkillAlwaysResolvable(t *testing.T) {
	reg := testRegistry(t, routingSet())
	router := newTestRouter(t, reg, nil, nil)

	for _, msg := range []string{"price of NVDA", "schedule a meeting", "hello", ""} {
		res, err := router.Route(context.Background(), RouteRequest{Message: msg})
		if err != nil {
			t.Fatalf("route(%q): %v", msg, err)
		}
		desc, ok := reg.GetByID(res.SkillID)
		if !ok || !desc.Enabled {
			t.Errorf("route(%q) returned unresolvable skill %s", msg, res.SkillID)
		}
	}
}

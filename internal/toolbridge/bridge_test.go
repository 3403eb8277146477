package toolbridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dreamit/concierge/internal/resort"
	"github.com/dreamit/concierge/internal/toolbridge"
	"github.com/dreamit/concierge/internal/visual"
	"github.com/dreamit/concierge/pkg/provider/s2s"
	s2smock "github.com/dreamit/concierge/pkg/provider/s2s/mock"
)

// orderedResponder records, for every response, what the display showed at
// the moment the response was sent.
type orderedResponder struct {
	disp *visual.Display

	mu        sync.Mutex
	responses []s2s.ToolResponse
	shown     []string
}

func (r *orderedResponder) SendToolResponse(responses ...s2s.ToolResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resp := range responses {
		r.responses = append(r.responses, resp)
		r.shown = append(r.shown, r.disp.Current().Resort.Name)
	}
	return nil
}

type outcome struct {
	name, status string
}

func newResortBridge(t *testing.T) (*toolbridge.Bridge, *visual.Display, *[]outcome) {
	t.Helper()
	disp := visual.New()
	var (
		mu       sync.Mutex
		outcomes []outcome
	)
	b := toolbridge.New(
		toolbridge.ResortTools(resort.NewDefault(), disp),
		toolbridge.WithObserver(func(name, status string, _ time.Duration) {
			mu.Lock()
			outcomes = append(outcomes, outcome{name, status})
			mu.Unlock()
		}),
	)
	return b, disp, &outcomes
}

func TestDefinitions(t *testing.T) {
	t.Parallel()

	b, _, _ := newResortBridge(t)
	defs := b.Definitions()
	if len(defs) != 2 {
		t.Fatalf("len(Definitions()) = %d, want 2", len(defs))
	}
	if defs[0].Name != toolbridge.ShowResortVisual || defs[1].Name != toolbridge.DescribeResort {
		t.Errorf("names = %q, %q", defs[0].Name, defs[1].Name)
	}
	props, _ := defs[0].Parameters["properties"].(map[string]any)
	if _, ok := props["resort"]; !ok {
		t.Errorf("show_resort_visual has no resort parameter: %+v", defs[0].Parameters)
	}
	req, _ := defs[0].Parameters["required"].([]any)
	if len(req) != 1 || req[0] != "resort" {
		t.Errorf("required = %v", req)
	}
}

func TestHandle_ResponseFollowsSideEffect(t *testing.T) {
	t.Parallel()

	b, disp, outcomes := newResortBridge(t)
	r := &orderedResponder{disp: disp}

	n := b.Handle(context.Background(), r, []s2s.ToolCall{
		{ID: "call-1", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": "Zimbali Lodge"}},
		{ID: "call-2", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": "mount amanzee"}},
	})
	if n != 2 {
		t.Fatalf("Handle() = %d, want 2", n)
	}
	if len(r.responses) != 2 {
		t.Fatalf("responses = %d, want exactly one per call", len(r.responses))
	}
	for i, want := range []struct{ id, shown string }{
		{"call-1", "Zimbali Lodge"},
		{"call-2", "Mount Amanzi"},
	} {
		if r.responses[i].ID != want.id {
			t.Errorf("response[%d].ID = %q, want %q", i, r.responses[i].ID, want.id)
		}
		if r.shown[i] != want.shown {
			t.Errorf("display at response[%d] = %q, want %q", i, r.shown[i], want.shown)
		}
		if r.responses[i].Response["displayed"] != true {
			t.Errorf("response[%d] = %+v, want displayed=true", i, r.responses[i].Response)
		}
	}
	if got := disp.Current().Resort.Name; got != "Mount Amanzi" {
		t.Errorf("final display = %q", got)
	}
	if len(*outcomes) != 2 || (*outcomes)[0].status != toolbridge.StatusOK {
		t.Errorf("outcomes = %+v", *outcomes)
	}
}

func TestHandle_UnknownToolIgnored(t *testing.T) {
	t.Parallel()

	b, disp, outcomes := newResortBridge(t)
	sess := s2smock.NewSession()

	n := b.Handle(context.Background(), sess, []s2s.ToolCall{
		{ID: "x", Name: "book_flight", Args: map[string]any{"to": "Durban"}},
	})
	if n != 0 {
		t.Errorf("Handle() = %d, want 0", n)
	}
	if got := sess.Responses(); len(got) != 0 {
		t.Errorf("responses = %+v, want none", got)
	}
	if disp.Current().Version != 0 {
		t.Error("display changed for an unknown tool")
	}
	if len(*outcomes) != 0 {
		t.Errorf("outcomes = %+v, want none", *outcomes)
	}
}

func TestHandle_AlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	b, disp, _ := newResortBridge(t)
	sess := s2smock.NewSession()

	b.Handle(context.Background(), sess, []s2s.ToolCall{
		{ID: "a", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": "Atlantis"}},
		{ID: "b", Name: toolbridge.ShowResortVisual},
		{ID: "c", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": 42, "extra": true}},
	})

	got := sess.Responses()
	if len(got) != 3 {
		t.Fatalf("responses = %d, want 3", len(got))
	}
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id || got[i].Name != toolbridge.ShowResortVisual {
			t.Errorf("response[%d] = %+v", i, got[i])
		}
		if got[i].Response["displayed"] != false {
			t.Errorf("response[%d] displayed = %v, want false", i, got[i].Response["displayed"])
		}
	}
	if disp.Current().Visible() {
		t.Error("display shows a resort after unmatched calls")
	}
}

func TestHandle_DescribeResort(t *testing.T) {
	t.Parallel()

	b, disp, _ := newResortBridge(t)
	sess := s2smock.NewSession()

	b.Handle(context.Background(), sess, []s2s.ToolCall{
		{ID: "d1", Name: toolbridge.DescribeResort, Args: map[string]any{"resort": "Cayley Lodge"}},
	})
	got := sess.Responses()
	if len(got) != 1 {
		t.Fatalf("responses = %d, want 1", len(got))
	}
	resp := got[0].Response
	if resp["found"] != true || resp["location"] != "Central Drakensberg, KZN" || resp["category"] != "Mountain" {
		t.Errorf("response = %+v", resp)
	}
	if disp.Current().Visible() {
		t.Error("describe_resort changed the display")
	}
}

func TestHandle_HandlerErrorAndPanicAcknowledged(t *testing.T) {
	t.Parallel()

	var statuses []string
	b := toolbridge.New([]toolbridge.Tool{
		{
			Definition: s2s.ToolDefinition{Name: "fails"},
			Handler: func(context.Context, map[string]any) (map[string]any, error) {
				return nil, errors.New("backend down")
			},
		},
		{
			Definition: s2s.ToolDefinition{Name: "panics"},
			Handler: func(context.Context, map[string]any) (map[string]any, error) {
				panic("boom")
			},
		},
	}, toolbridge.WithObserver(func(_, status string, _ time.Duration) {
		statuses = append(statuses, status)
	}))
	sess := s2smock.NewSession()

	n := b.Handle(context.Background(), sess, []s2s.ToolCall{
		{ID: "1", Name: "fails"},
		{ID: "2", Name: "panics"},
	})
	if n != 2 {
		t.Fatalf("Handle() = %d, want 2", n)
	}
	got := sess.Responses()
	if len(got) != 2 {
		t.Fatalf("responses = %d, want 2", len(got))
	}
	if got[0].Response["ok"] != false || got[0].Response["error"] != "backend down" {
		t.Errorf("error response = %+v", got[0].Response)
	}
	if got[1].Response["ok"] != false {
		t.Errorf("panic response = %+v", got[1].Response)
	}
	if len(statuses) != 2 || statuses[0] != toolbridge.StatusError || statuses[1] != toolbridge.StatusPanic {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestHandle_SendFailureDoesNotStop(t *testing.T) {
	t.Parallel()

	b, disp, outcomes := newResortBridge(t)
	sess := s2smock.NewSession()
	sess.SendToolResponseErr = errors.New("socket closed")

	n := b.Handle(context.Background(), sess, []s2s.ToolCall{
		{ID: "1", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": "Royal Palm"}},
		{ID: "2", Name: toolbridge.ShowResortVisual, Args: map[string]any{"resort": "Little Eden"}},
	})
	if n != 2 {
		t.Fatalf("Handle() = %d, want 2", n)
	}
	if len(sess.Responses()) != 2 {
		t.Errorf("send attempts = %d, want 2", len(sess.Responses()))
	}
	if got := disp.Current().Resort.Name; got != "Little Eden" {
		t.Errorf("display = %q, want Little Eden", got)
	}
	for _, o := range *outcomes {
		if o.status != toolbridge.StatusSendFailed {
			t.Errorf("status = %q, want %q", o.status, toolbridge.StatusSendFailed)
		}
	}
}

func TestHandle_TimeoutReachesHandler(t *testing.T) {
	t.Parallel()

	b := toolbridge.New([]toolbridge.Tool{{
		Definition: s2s.ToolDefinition{Name: "slow"},
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}, toolbridge.WithToolTimeout(10*time.Millisecond))
	sess := s2smock.NewSession()

	b.Handle(context.Background(), sess, []s2s.ToolCall{{ID: "s", Name: "slow"}})
	got := sess.Responses()
	if len(got) != 1 || got[0].Response["ok"] != false {
		t.Errorf("responses = %+v", got)
	}
}

func TestRegister_IgnoresIncompleteAndReplaces(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }
	b := toolbridge.New(nil)
	b.Register(toolbridge.Tool{Definition: s2s.ToolDefinition{Name: ""}, Handler: noop})
	b.Register(toolbridge.Tool{Definition: s2s.ToolDefinition{Name: "nohandler"}})
	b.Register(toolbridge.Tool{Definition: s2s.ToolDefinition{Name: "a", Description: "first"}, Handler: noop})
	b.Register(toolbridge.Tool{Definition: s2s.ToolDefinition{Name: "a", Description: "second"}, Handler: noop})

	if names := b.Names(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("Names() = %v, want [a]", names)
	}
	if d := b.Definitions()[0].Description; d != "second" {
		t.Errorf("Description = %q, want second", d)
	}

	sess := s2smock.NewSession()
	b.Handle(context.Background(), sess, []s2s.ToolCall{{ID: "1", Name: "a"}})
	if got := sess.Responses(); len(got) != 1 || got[0].Response["ok"] != true {
		t.Errorf("responses = %+v", got)
	}
}

package smartop

import (
	"context"
	"testing"

	"github.com/swarmhive/core/internal/inference"
)

func TestDecide_NoClientAddsWithDegradedReason(t *testing.T) {
	d := Decide(context.Background(), nil, "new fact", nil)
	if d.Op != OpAdd {
		t.Fatalf("got %q, want ADD", d.Op)
	}
	if d.Reason == "" {
		t.Fatal("expected a degradation reason")
	}
}

func TestDecide_UnavailableClientFallsBackToHeuristic(t *testing.T) {
	d := Decide(context.Background(), inference.Noop{}, "new fact", []Candidate{{ID: "mem-1", Score: 0.99}})
	if d.Op != OpNoop || d.Target != "mem-1" {
		t.Fatalf("got %+v, want NOOP targeting mem-1", d)
	}
}

func TestDecide_ParsesClientDecisionVerbatim(t *testing.T) {
	mock := &inference.Mock{DecideResponse: `{"decision":"UPDATE","target":"mem-7","reason":"refines prior note"}`}
	d := Decide(context.Background(), mock, "candidate text", []Candidate{{ID: "mem-7", Score: 0.6}})
	if d.Op != OpUpdate || d.Target != "mem-7" || d.Reason != "refines prior note" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecide_UnrecognizedDecisionFallsBackToHeuristic(t *testing.T) {
	mock := &inference.Mock{DecideResponse: `{"decision":"MAYBE","reason":"unsure"}`}
	d := Decide(context.Background(), mock, "candidate text", []Candidate{{ID: "mem-3", Score: 0.5}})
	if d.Op != OpAdd {
		t.Fatalf("got %q, want heuristic ADD fallback for a low-similarity neighbor", d.Op)
	}
}

func TestDecide_MalformedResponseFallsBackToHeuristic(t *testing.T) {
	mock := &inference.Mock{DecideResponse: `not json`}
	d := Decide(context.Background(), mock, "candidate text", nil)
	if d.Op != OpAdd {
		t.Fatalf("got %q, want ADD", d.Op)
	}
}

func TestHeuristic_PicksHighestScoringNeighbor(t *testing.T) {
	d := heuristic([]Candidate{
		{ID: "low", Score: 0.3},
		{ID: "high", Score: 0.85},
		{ID: "mid", Score: 0.5},
	}, "test")
	if d.Op != OpUpdate || d.Target != "high" {
		t.Fatalf("got %+v, want UPDATE targeting the highest scorer", d)
	}
}

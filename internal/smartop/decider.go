// Package smartop decides, for a candidate memory and its nearest
// existing neighbors, whether to add a new memory, update an existing
// one, delete one that's been superseded by silence, or do nothing.
package smartop

import (
	"context"
	"encoding/json"

	"github.com/swarmhive/core/internal/inference"
)

// Op is one of the four smart-upsert operations.
type Op string

const (
	OpAdd    Op = "ADD"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	OpNoop   Op = "NOOP"
)

// Candidate is one existing memory considered as a similarity neighbor.
type Candidate struct {
	ID    string
	Score float64
}

// Decision is the decider's output: which operation to run, against
// which existing memory (empty for ADD), and why.
type Decision struct {
	Op     Op
	Target string
	Reason string
}

const (
	noopThreshold   = 0.95
	updateThreshold = 0.8
)

// Decide invokes client.Decide when client is available, falling back to
// a similarity-threshold heuristic on unavailability or a malformed
// response — the upsert never fails outright for an inference hiccup; it
// degrades to the heuristic and keeps going.
func Decide(ctx context.Context, client inference.Client, candidate string, similar []Candidate) Decision {
	if client == nil || !client.IsAvailable() {
		return heuristic(similar, "inference client unavailable")
	}

	texts := make([]string, len(similar))
	for i, c := range similar {
		texts[i] = c.ID
	}
	raw, err := client.Decide(ctx, candidate, texts)
	if err != nil {
		return heuristic(similar, "inference decide failed: "+err.Error())
	}

	var resp struct {
		Decision string `json:"decision"`
		Target   string `json:"target"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return heuristic(similar, "inference decide response unparseable")
	}

	switch Op(resp.Decision) {
	case OpAdd, OpUpdate, OpDelete, OpNoop:
		return Decision{Op: Op(resp.Decision), Target: resp.Target, Reason: resp.Reason}
	default:
		return heuristic(similar, "inference returned unrecognized decision: "+resp.Decision)
	}
}

// heuristic picks an operation from similarity scores alone, used both
// for explicit degradation and as the decider's own fallback when the
// inference client returns something unusable.
func heuristic(similar []Candidate, reason string) Decision {
	if len(similar) == 0 {
		return Decision{Op: OpAdd, Reason: reason}
	}

	top := similar[0]
	for _, c := range similar[1:] {
		if c.Score > top.Score {
			top = c
		}
	}

	switch {
	case top.Score >= noopThreshold:
		return Decision{Op: OpNoop, Target: top.ID, Reason: reason + "; near-duplicate of " + top.ID}
	case top.Score >= updateThreshold:
		return Decision{Op: OpUpdate, Target: top.ID, Reason: reason + "; similar enough to update " + top.ID}
	default:
		return Decision{Op: OpAdd, Reason: reason}
	}
}

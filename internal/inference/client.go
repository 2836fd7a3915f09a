// Package inference defines the opaque client surface semantic memory
// degrades around: embeddings, smart-op decisions, and tag/entity
// extraction. The shape is adapted from the teacher's provider
// interface/registry split (one interface, a keyed registry of
// implementations, a "current" selection) but the methods themselves are
// memory-specific — nothing here talks to a concrete vendor API; that
// boundary belongs to whatever embeds this module.
package inference

import (
	"context"
	"sync"

	"github.com/swarmhive/core/internal/errs"
)

// Client is every capability semantic memory needs from an inference
// backend. A nil/unavailable Client is a normal, handled state: callers
// degrade (ADD instead of smart-op, empty tags, skipped entity
// extraction) rather than failing the surrounding operation.
type Client interface {
	// ID identifies the backend for logging/metrics.
	ID() string
	// IsAvailable reports whether this client is currently usable.
	IsAvailable() bool
	// Embed returns a 1024-dim embedding for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Decide runs the smart-op decider against a candidate and its
	// similar existing memories, returning a raw decision payload the
	// smartop package parses.
	Decide(ctx context.Context, candidate string, similar []string) (string, error)
	// Tag returns {tags[3..5], keywords[5..10], category} as a raw JSON
	// payload for the memory package to parse.
	Tag(ctx context.Context, content string) (string, error)
	// ExtractEntities returns entities and subject-predicate-object
	// triples as a raw JSON payload.
	ExtractEntities(ctx context.Context, content string) (string, error)
}

// Registry holds named Client implementations and tracks which one is
// current, mirroring the teacher's provider registry shape generalized
// from a DB-backed config table to an explicit in-process map (this
// engine has no providers table of its own).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	current string
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds or replaces a client under id. The first client
// registered becomes current automatically.
func (r *Registry) Register(id string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = c
	if r.current == "" {
		r.current = id
	}
}

// SetCurrent selects which registered client subsequent Current() calls
// return.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return errs.New(errs.NotFound, "inference client not registered: "+id)
	}
	r.current = id
	return nil
}

// Current returns the active client, or nil if none is registered or the
// active one is unavailable.
func (r *Registry) Current() Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil
	}
	c, ok := r.clients[r.current]
	if !ok || !c.IsAvailable() {
		return nil
	}
	return c
}

// Noop is a Client that is always unavailable, the default when no real
// backend has been configured. Even when a Noop is current (as the first
// client registered), Current() returns nil because IsAvailable is false,
// so every memory operation that calls it falls back to its documented
// degradation path.
type Noop struct{}

func (Noop) ID() string             { return "noop" }
func (Noop) IsAvailable() bool      { return false }
func (Noop) Embed(context.Context, string) ([]float32, error) {
	return nil, errs.New(errs.InferenceUnavailable, "noop client has no embeddings")
}
func (Noop) Decide(context.Context, string, []string) (string, error) {
	return "", errs.New(errs.InferenceUnavailable, "noop client cannot decide")
}
func (Noop) Tag(context.Context, string) (string, error) {
	return "", errs.New(errs.InferenceUnavailable, "noop client cannot tag")
}
func (Noop) ExtractEntities(context.Context, string) (string, error) {
	return "", errs.New(errs.InferenceUnavailable, "noop client cannot extract entities")
}

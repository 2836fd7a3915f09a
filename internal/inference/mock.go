package inference

import (
	"context"
	"math"
)

// Mock is a deterministic, in-process Client used by this module's own
// tests: embeddings are a cheap hash-based vector (not semantically
// meaningful, but stable and comparable via cosine distance), and
// Decide/Tag/ExtractEntities return canned JSON a caller can parse.
type Mock struct {
	DecideResponse          string
	TagResponse             string
	ExtractEntitiesResponse string
}

func (m *Mock) ID() string        { return "mock" }
func (m *Mock) IsAvailable() bool { return true }

func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 1024)
	h := uint32(2166136261)
	for i := 0; i < len(vec); i++ {
		for _, c := range text {
			h = (h ^ uint32(c)) * 16777619
		}
		vec[i] = float32(math.Sin(float64(h) + float64(i)))
	}
	return vec, nil
}

func (m *Mock) Decide(ctx context.Context, candidate string, similar []string) (string, error) {
	if m.DecideResponse != "" {
		return m.DecideResponse, nil
	}
	return `{"decision":"ADD","reason":"no similar memories above threshold"}`, nil
}

func (m *Mock) Tag(ctx context.Context, content string) (string, error) {
	if m.TagResponse != "" {
		return m.TagResponse, nil
	}
	return `{"tags":["note"],"keywords":["note"],"category":"general"}`, nil
}

func (m *Mock) ExtractEntities(ctx context.Context, content string) (string, error) {
	if m.ExtractEntitiesResponse != "" {
		return m.ExtractEntitiesResponse, nil
	}
	return `{"entities":[],"triples":[]}`, nil
}

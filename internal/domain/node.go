package domain

import (
	"time"

	"github.com/google/uuid"
)

// Expansion levels of a node relative to the original query.
const (
	LevelQuery  = 0
	LevelDirect = 1
	LevelSecond = 2
)

// Match is a single scored hit as returned by a vector backend, in backend order.
type Match struct {
	Name      string
	Certainty float64
	Embedding []float32
}

// Node is a concept returned to callers. Nodes are values: enrichment records
// images in the engine's image cache and never touches the node itself.
type Node struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Embedding  []float32    `json:"embedding"`
	Similarity float64      `json:"similarityScore"`
	CreatedAt  time.Time    `json:"timestamp"`
	Health     SystemHealth `json:"healthStatus"`
	Level      int          `json:"level"`
}

// NewNode builds a node from a backend match, stamping a fresh ID and creation time.
func NewNode(m Match, level int, now time.Time) Node {
	if level < 0 {
		level = LevelQuery
	}
	emb := m.Embedding
	if emb == nil {
		emb = []float32{}
	}
	return Node{
		ID:         uuid.NewString(),
		Name:       m.Name,
		Embedding:  emb,
		Similarity: m.Certainty,
		CreatedAt:  now,
		Health:     Nominal,
		Level:      level,
	}
}

// NodesFromMatches converts an ordered match list into nodes tagged with level.
func NodesFromMatches(matches []Match, level int, now time.Time) []Node {
	nodes := make([]Node, 0, len(matches))
	for _, m := range matches {
		nodes = append(nodes, NewNode(m, level, now))
	}
	return nodes
}

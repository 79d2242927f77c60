// Package demo generates a small, seeded web-shop event table so a fresh
// install has something to ask questions about.
package demo

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/duckmesh/sqlpilot/internal/loader"
)

const (
	Dataset = "shop"
	Table   = "events"
)

var columns = []string{
	"event_id", "user_id", "session_id", "event_type", "amount",
	"currency", "country", "device", "is_returning", "occurred_at",
}

type Generator struct {
	rnd             *rand.Rand
	userCardinality int
	sequence        int64
	start           time.Time
}

func NewGenerator(seed int64, userCardinality int, start time.Time) *Generator {
	if userCardinality <= 0 {
		userCardinality = 200
	}
	return &Generator{
		rnd:             rand.New(rand.NewSource(seed)),
		userCardinality: userCardinality,
		start:           start.UTC(),
	}
}

// Dataset returns the next n events. Events are a minute apart starting at
// the generator's start time.
func (g *Generator) Dataset(n int) loader.Dataset {
	dataset := loader.Dataset{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, n)}
	for i := 0; i < n; i++ {
		dataset.Rows = append(dataset.Rows, g.nextRow())
	}
	return dataset
}

func (g *Generator) nextRow() []any {
	g.sequence++
	eventType := g.pickEventType()
	occurredAt := g.start.Add(time.Duration(g.sequence-1) * time.Minute)

	var amount any
	if value := g.pickAmount(eventType); value > 0 {
		amount = fmt.Sprintf("%.2f", value)
	}
	return []any{
		fmt.Sprintf("%d", g.sequence),
		fmt.Sprintf("user-%04d", g.rnd.Intn(g.userCardinality)+1),
		fmt.Sprintf("sess-%08x", g.rnd.Uint32()),
		eventType,
		amount,
		"USD",
		pickOne(g.rnd, []string{"US", "DE", "GB", "IN", "JP", "BR"}),
		pickOne(g.rnd, []string{"desktop", "mobile", "tablet"}),
		fmt.Sprintf("%t", g.rnd.Intn(3) == 0),
		occurredAt.Format(time.RFC3339),
	}
}

func (g *Generator) pickEventType() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 55:
		return "page_view"
	case p < 75:
		return "search"
	case p < 88:
		return "add_to_cart"
	case p < 97:
		return "checkout"
	default:
		return "purchase"
	}
}

func (g *Generator) pickAmount(eventType string) float64 {
	switch eventType {
	case "purchase":
		return round2(20 + g.rnd.Float64()*280)
	case "checkout":
		return round2(15 + g.rnd.Float64()*240)
	case "add_to_cart":
		return round2(5 + g.rnd.Float64()*120)
	default:
		return 0
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

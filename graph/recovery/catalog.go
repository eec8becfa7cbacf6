package recovery

import (
	"sort"
	"sync"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/model"
)

// Candidate is a fallback provider offered during recovery.
type Candidate struct {
	ID     string
	Family model.Family

	// Price is the blended list price in USD per million tokens. It is
	// meaningful only when Priced is true.
	Price  float64
	Priced bool
}

// Catalog lists the models of each provider family that may substitute for
// one another, with their prices.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	models map[model.Family][]string
	prices map[string]graph.ModelPricing
}

// NewCatalog creates an empty catalog. Prices default to graph's static
// pricing table.
func NewCatalog() *Catalog {
	return &Catalog{
		models: make(map[model.Family][]string),
		prices: make(map[string]graph.ModelPricing),
	}
}

// DefaultCatalog returns the built-in fallback lists.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.SetModels(model.FamilyOpenAI, "gpt-4o-mini", "gpt-3.5-turbo", "gpt-4o", "gpt-4")
	c.SetModels(model.FamilyGoogle, "gemini-1.5-flash", "gemini-1.5-pro", "gemini-pro")
	c.SetModels(model.FamilyDeepSeek, "deepseek-chat", "deepseek-reasoner")
	c.SetModels(model.FamilyAnthropic, "claude-3-haiku-20240307", "claude-3-5-sonnet-20241022", "claude-3-opus-20240229")
	return c
}

// SetModels replaces the fallback list of a family.
func (c *Catalog) SetModels(f model.Family, models ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[f] = append([]string(nil), models...)
}

// SetPrice overrides the price of one model.
func (c *Catalog) SetPrice(id string, p graph.ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[id] = p
}

// Models returns the fallback list of a family.
func (c *Catalog) Models(f model.Family) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.models[f]...)
}

// Price returns the price of a model: an override when set, otherwise the
// static table.
func (c *Catalog) Price(id string) (graph.ModelPricing, bool) {
	c.mu.RLock()
	p, ok := c.prices[id]
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	return graph.PriceOf(id)
}

// Candidates returns the family's models minus excluded, cheapest first.
// Models without a known price follow, by name. When suggested is not
// empty it replaces the family list. When ceiling has a known price, priced
// models costing more are left out.
func (c *Catalog) Candidates(f model.Family, ceiling string, excluded, suggested []string) []Candidate {
	ids := suggested
	if len(ids) == 0 {
		ids = c.Models(f)
	}

	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	limit, capped := 0.0, false
	if ceiling != "" {
		if p, ok := c.Price(ceiling); ok {
			limit, capped = p.Blended(), true
		}
	}

	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		if id == "" || skip[id] {
			continue
		}
		skip[id] = true
		cand := Candidate{ID: id, Family: f}
		if p, ok := c.Price(id); ok {
			if capped && p.Blended() > limit {
				continue
			}
			cand.Price = p.Blended()
			cand.Priced = true
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priced != b.Priced {
			return a.Priced
		}
		if a.Priced && a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.ID < b.ID
	})
	return out
}

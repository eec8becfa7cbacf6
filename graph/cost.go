package graph

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing is the list price of a model in USD per million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Blended returns a single comparable figure: the average of input and
// output price. It is what fallback candidates are ordered by.
func (p ModelPricing) Blended() float64 {
	return (p.InputPer1M + p.OutputPer1M) / 2
}

// Static pricing table, as published by each provider. Prices change; use
// CostTracker.SetCustomPricing or recovery.Catalog overrides for current
// figures.
var defaultModelPricing = map[string]ModelPricing{
	// OpenAI
	"gpt-5":         {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4":         {InputPer1M: 30.00, OutputPer1M: 60.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// Google
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash": {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":   {InputPer1M: 0.50, OutputPer1M: 1.50},
	"gemini-pro":       {InputPer1M: 0.50, OutputPer1M: 1.50},

	// DeepSeek
	"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.10},
	"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19},
}

// PriceOf looks up the list price of model.
func PriceOf(model string) (ModelPricing, bool) {
	p, ok := defaultModelPricing[model]
	return p, ok
}

// ProviderCall records one billed provider call.
type ProviderCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	NodeID       string
}

// CostTracker accumulates provider spend for a session.
type CostTracker struct {
	SessionID string

	mu         sync.RWMutex
	pricing    map[string]ModelPricing
	calls      []ProviderCall
	total      float64
	modelCosts map[string]float64
}

// NewCostTracker creates a tracker using the static pricing table.
func NewCostTracker(sessionID string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		SessionID:  sessionID,
		pricing:    pricing,
		modelCosts: make(map[string]float64),
	}
}

// RecordCall adds a call to the tracker. Unknown models are recorded at zero
// cost.
func (ct *CostTracker) RecordCall(model string, inputTokens, outputTokens int, nodeID string) ProviderCall {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M

	call := ProviderCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		NodeID:       nodeID,
	}
	ct.calls = append(ct.calls, call)
	ct.total += cost
	ct.modelCosts[model] += cost
	return call
}

// SetCustomPricing overrides the price of one model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// TotalCost returns the accumulated cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// CostByModel returns accumulated cost per model.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make(map[string]float64, len(ct.modelCosts))
	for k, v := range ct.modelCosts {
		out[k] = v
	}
	return out
}

// Calls returns the call history.
func (ct *CostTracker) Calls() []ProviderCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]ProviderCall(nil), ct.calls...)
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{Session: %s, Calls: %d, TotalCost: $%.4f}", ct.SessionID, len(ct.calls), ct.total)
}

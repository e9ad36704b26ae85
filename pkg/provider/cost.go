package provider

// rate is USD per million tokens, input and output priced separately.
type rate struct {
	inputPerMillion  float64
	outputPerMillion float64
}

// modelRates is looked up by exact model id. Unknown models fall back to
// conservativeRate so an unrecognized id never silently prices as free.
var modelRates = map[string]rate{
	"claude-sonnet-4-20250514":   {inputPerMillion: 3.00, outputPerMillion: 15.00},
	"claude-opus-4-20250514":     {inputPerMillion: 15.00, outputPerMillion: 75.00},
	"claude-3-5-sonnet-20241022": {inputPerMillion: 3.00, outputPerMillion: 15.00},
	"claude-3-haiku-20240307":    {inputPerMillion: 0.25, outputPerMillion: 1.25},
	"gemini-2.0-flash":           {inputPerMillion: 0.10, outputPerMillion: 0.40},
	"gemini-3-pro-preview":       {inputPerMillion: 1.25, outputPerMillion: 5.00},
}

// conservativeRate prices an unrecognized model id at the most expensive
// known rate, so cost accounting never under-reports.
var conservativeRate = rate{inputPerMillion: 15.00, outputPerMillion: 75.00}

// CostUSD prices one call's token usage for a given model.
func CostUSD(model string, inputTokens, outputTokens int) float64 {
	r, ok := modelRates[model]
	if !ok {
		r = conservativeRate
	}
	return float64(inputTokens)/1_000_000*r.inputPerMillion + float64(outputTokens)/1_000_000*r.outputPerMillion
}

package llm

// Rate holds a model's USD price per million input and output tokens.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// PriceTable maps model identifiers to their rates. Unknown models fall back
// to the default rate so cost records never silently read zero.
type PriceTable map[string]Rate

var defaultRate = Rate{InputPerMTok: 3.0, OutputPerMTok: 15.0}

// DefaultPriceTable covers the models the pipeline is expected to run
// against.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"claude-sonnet-4-20250514":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
		"claude-opus-4-20250514":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
		"claude-3-5-haiku-20241022":  {InputPerMTok: 0.8, OutputPerMTok: 4.0},
		"claude-3-5-sonnet-20241022": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	}
}

// Cost computes the USD cost of one call.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := t[model]
	if !ok {
		rate = defaultRate
	}
	return float64(inputTokens)*rate.InputPerMTok/1e6 + float64(outputTokens)*rate.OutputPerMTok/1e6
}

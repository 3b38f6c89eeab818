package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"pgregory.net/rapid"

	"github.com/baum777/reasongate"
)

var generationUseCases = []reasongate.UseCase{
	reasongate.UseCaseJournalInsight,
	reasongate.UseCaseTradeReview,
	reasongate.UseCaseSentimentPulse,
}

func canonicalOf(t require.TestingT, v map[string]any) []byte {
	b, err := Canonical(v)
	require.NoError(t, err)
	return b
}

func TestFallbackJournal(t *testing.T) {
	canonical := canonicalOf(t, map[string]any{
		"entries": []any{
			map[string]any{"mood": "FOMO", "tags": []any{"breakout"}},
			map[string]any{"mood": "fomo", "tags": []any{"breakout", "late-entry"}},
			map[string]any{"mood": "calm"},
		},
	})
	data, err := fallbackGenerate(reasongate.UseCaseJournalInsight, "journal-7", canonical)
	require.NoError(t, err)
	require.NoError(t, Validate(reasongate.UseCaseJournalInsight, data))

	assert.Equal(t, "Reviewed 3 journal entries for journal-7.", gjson.GetBytes(data, "summary").String())
	patterns := gjson.GetBytes(data, "patterns").Array()
	require.Len(t, patterns, 3)
	assert.Contains(t, patterns[0].String(), `"breakout" in 2`)
	assert.Contains(t, patterns[1].String(), `"fomo" in 2`)
	assert.Contains(t, gjson.GetBytes(data, "recommendations.0").String(), "fomo")
}

func TestFallbackTradeReview(t *testing.T) {
	canonical := canonicalOf(t, map[string]any{
		"trades": []any{
			map[string]any{"symbol": "BTC", "pnl": 120, "stopLoss": 60000},
			map[string]any{"symbol": "ETH", "pnl": -40},
			map[string]any{"symbol": "SOL", "pnl": 15, "stopLoss": 120},
		},
	})
	data, err := fallbackGenerate(reasongate.UseCaseTradeReview, "t1", canonical)
	require.NoError(t, err)
	require.NoError(t, Validate(reasongate.UseCaseTradeReview, data))

	assert.Equal(t, "positive", gjson.GetBytes(data, "verdict").String())
	// one loss in three, one trade without a stop: 10*(0.5/3+0.5/3)
	assert.InDelta(t, 3.3, gjson.GetBytes(data, "riskScore").Float(), 1e-9)
	assert.Len(t, gjson.GetBytes(data, "weaknesses").Array(), 2)
}

func TestFallbackTradeReview_NoTrades(t *testing.T) {
	data, err := fallbackGenerate(reasongate.UseCaseTradeReview, "t1", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, Validate(reasongate.UseCaseTradeReview, data))
	assert.Equal(t, "insufficient_data", gjson.GetBytes(data, "verdict").String())

	report := fallbackCritique(reasongate.UseCaseTradeReview, []byte(`{}`), data)
	assert.Contains(t, report.Issues, "Not enough trades to judge performance.")
	assert.Less(t, report.AdjustedConfidence, gjson.GetBytes(data, "confidence").Float())
}

func TestFallbackSentiment(t *testing.T) {
	canonical := canonicalOf(t, map[string]any{
		"posts":   []any{"Very bullish on this breakout", "going long", "might sell later"},
		"signals": []any{map[string]any{"score": 0.5}, map[string]any{"score": 0.1}},
	})
	data, err := fallbackGenerate(reasongate.UseCaseSentimentPulse, "btc", canonical)
	require.NoError(t, err)
	require.NoError(t, Validate(reasongate.UseCaseSentimentPulse, data))

	// keywords (3-1)/4 = 0.5, signals 0.3, mean 0.4
	assert.Equal(t, "bullish", gjson.GetBytes(data, "sentiment").String())
	assert.InDelta(t, 0.4, gjson.GetBytes(data, "score").Float(), 1e-9)
}

func TestFallbackCritique_FlagsInconsistentSentiment(t *testing.T) {
	gen := []byte(`{"sentiment":"bullish","score":-0.4,"drivers":["x"],"confidence":0.8}`)
	report := fallbackCritique(reasongate.UseCaseSentimentPulse, []byte(`{"a":1}`), gen)

	assert.Contains(t, report.Issues, "Sentiment label disagrees with its score.")
	assert.Contains(t, report.Issues, "Confidence is high for the amount of context provided.")
	assert.Len(t, report.Notes, len(report.Issues))
	assert.InDelta(t, 0.56, report.AdjustedConfidence, 1e-9)
}

func TestFallbackCritique_CleanGenerationKeepsConfidence(t *testing.T) {
	gen := []byte(`{"summary":"s","patterns":["p"],"recommendations":["r"],"confidence":0.45}`)
	report := fallbackCritique(reasongate.UseCaseJournalInsight, []byte(`{"a":1}`), gen)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Notes)
	assert.Equal(t, 0.45, report.AdjustedConfidence)
}

func TestFallback_AlwaysSchemaValidAndDiscounted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		uc := rapid.SampledFrom(generationUseCases).Draw(t, "uc")
		ctx := contextGen().Draw(t, "ctx")
		if rapid.Bool().Draw(t, "withTrades") {
			ctx["trades"] = []any{map[string]any{"pnl": rapid.IntRange(-100, 100).Draw(t, "pnl")}}
		}
		canonical := canonicalOf(t, ctx)

		data, err := fallbackGenerate(uc, "ref", canonical)
		require.NoError(t, err)
		require.NoError(t, Validate(uc, data))

		again, err := fallbackGenerate(uc, "ref", canonical)
		require.NoError(t, err)
		assert.Equal(t, string(data), string(again), "deterministic")

		report := fallbackCritique(uc, canonical, data)
		assert.LessOrEqual(t, report.AdjustedConfidence, gjson.GetBytes(data, "confidence").Float())
		assert.GreaterOrEqual(t, report.AdjustedConfidence, 0.0)
	})
}

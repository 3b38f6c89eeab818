package reasoning

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/baum777/reasongate"
)

func TestCanonical_SortsKeysAtEveryLevel(t *testing.T) {
	got, err := Canonical(map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "m": []any{map[string]any{"y": 1, "x": 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"m":[{"x":2,"y":1}],"z":true},"b":1}`, string(got))
}

func TestCanonical_StructsMatchMaps(t *testing.T) {
	type trade struct {
		Symbol string  `json:"symbol"`
		PnL    float64 `json:"pnl"`
	}
	fromStruct, err := Canonical(map[string]any{"trades": []trade{{Symbol: "BTC", PnL: 1.5}}})
	require.NoError(t, err)
	fromMap, err := Canonical(map[string]any{"trades": []any{map[string]any{"pnl": 1.5, "symbol": "BTC"}}})
	require.NoError(t, err)
	assert.Equal(t, string(fromMap), string(fromStruct))
}

func TestCanonical_KeepsHTMLAndLargeNumbers(t *testing.T) {
	got, err := Canonical(map[string]any{"note": "<b>&</b>", "id": json.Number("12345678901234567890")})
	require.NoError(t, err)
	assert.Equal(t, `{"id":12345678901234567890,"note":"<b>&</b>"}`, string(got))
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(reasongate.UseCaseTradeReview, "trade-1", "v1", []byte(`{"a":1}`))
	b := CacheKey(reasongate.UseCaseTradeReview, "trade-1", "v1", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "reasoning:trade_review:trade-1:v1:"))
	assert.Len(t, strings.TrimPrefix(a, "reasoning:trade_review:trade-1:v1:"), 32)

	assert.NotEqual(t, a, CacheKey(reasongate.UseCaseTradeReview, "trade-1", "v2", []byte(`{"a":1}`)))
	assert.NotEqual(t, a, CacheKey(reasongate.UseCaseTradeReview, "trade-1", "v1", []byte(`{"a":2}`)))
	assert.NotEqual(t, a, CacheKey(reasongate.UseCaseJournalInsight, "trade-1", "v1", []byte(`{"a":1}`)))
}

func contextGen() *rapid.Generator[map[string]any] {
	return rapid.Custom(func(t *rapid.T) map[string]any {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 0, 6, rapid.ID[string]).Draw(t, "keys")
		m := make(map[string]any, len(keys))
		for _, k := range keys {
			switch rapid.IntRange(0, 3).Draw(t, "kind") {
			case 0:
				m[k] = rapid.String().Draw(t, "s")
			case 1:
				m[k] = rapid.IntRange(-1000, 1000).Draw(t, "i")
			case 2:
				m[k] = rapid.Bool().Draw(t, "b")
			default:
				m[k] = map[string]any{"pnl": rapid.IntRange(-50, 50).Draw(t, "pnl"), "tag": rapid.StringMatching(`[a-z]{0,5}`).Draw(t, "tag")}
			}
		}
		return m
	})
}

func TestCanonical_IsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := contextGen().Draw(t, "ctx")

		first, err := Canonical(ctx)
		require.NoError(t, err)

		var decoded any
		require.NoError(t, json.Unmarshal(first, &decoded))
		second, err := Canonical(decoded)
		require.NoError(t, err)

		assert.Equal(t, string(first), string(second))
	})
}

func TestCanonical_CopyHasSameKey(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := contextGen().Draw(t, "ctx")
		clone := make(map[string]any, len(ctx))
		for k, v := range ctx {
			clone[k] = v
		}

		a, err := Canonical(ctx)
		require.NoError(t, err)
		b, err := Canonical(clone)
		require.NoError(t, err)
		assert.Equal(t,
			CacheKey(reasongate.UseCaseJournalInsight, "ref", "v1", a),
			CacheKey(reasongate.UseCaseJournalInsight, "ref", "v1", b))
	})
}

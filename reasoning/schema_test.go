package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/baum777/reasongate"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		uc   reasongate.UseCase
		data string
		ok   bool
	}{
		{"journal ok", reasongate.UseCaseJournalInsight, `{"summary":"s","patterns":[],"recommendations":["r"],"confidence":0.5}`, true},
		{"journal missing summary", reasongate.UseCaseJournalInsight, `{"patterns":[],"recommendations":[],"confidence":0.5}`, false},
		{"journal non-string pattern", reasongate.UseCaseJournalInsight, `{"summary":"s","patterns":[1],"recommendations":[],"confidence":0.5}`, false},
		{"confidence above one", reasongate.UseCaseJournalInsight, `{"summary":"s","patterns":[],"recommendations":[],"confidence":1.2}`, false},
		{"trade ok", reasongate.UseCaseTradeReview, `{"verdict":"mixed","strengths":[],"weaknesses":[],"riskScore":10,"confidence":0}`, true},
		{"risk out of range", reasongate.UseCaseTradeReview, `{"verdict":"mixed","strengths":[],"weaknesses":[],"riskScore":11,"confidence":0}`, false},
		{"risk as string", reasongate.UseCaseTradeReview, `{"verdict":"mixed","strengths":[],"weaknesses":[],"riskScore":"3","confidence":0}`, false},
		{"sentiment ok", reasongate.UseCaseSentimentPulse, `{"sentiment":"bearish","score":-1,"drivers":["x"],"confidence":0.3}`, true},
		{"sentiment label", reasongate.UseCaseSentimentPulse, `{"sentiment":"sideways","score":0,"drivers":[],"confidence":0.3}`, false},
		{"critic ok", reasongate.UseCaseInsightCritic, `{"issues":[],"adjustedConfidence":0.4,"notes":[]}`, true},
		{"critic issues object", reasongate.UseCaseInsightCritic, `{"issues":{},"adjustedConfidence":0.4,"notes":[]}`, false},
		{"array root", reasongate.UseCaseInsightCritic, `[]`, false},
		{"invalid json", reasongate.UseCaseInsightCritic, `{"issues":`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.uc, []byte(tc.data))
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrSchemaMismatch)
			assert.ErrorIs(t, err, reasongate.ErrParsingFailed)
		})
	}
}

func TestValidate_UnknownUseCase(t *testing.T) {
	assert.ErrorIs(t, Validate("horoscope", []byte(`{}`)), ErrInvalidRequest)
}

func TestSchemaFor_ShapeNamesEveryField(t *testing.T) {
	for uc, s := range schemas {
		got, ok := SchemaFor(uc)
		assert.True(t, ok)
		for _, f := range s.fields {
			assert.Contains(t, got.Shape, `"`+f.path+`"`, "%s shape", uc)
		}
	}
}

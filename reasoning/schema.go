package reasoning

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/baum777/reasongate"
)

type kind int

const (
	kindString kind = iota
	kindNumber
	kindStringArray
)

type field struct {
	path     string
	kind     kind
	min, max float64
	enum     []string
}

// Schema is the expected output shape of one use case.
type Schema struct {
	fields []field
	// Shape is the human readable form embedded in prompts.
	Shape string
}

var schemas = map[reasongate.UseCase]Schema{
	reasongate.UseCaseJournalInsight: {
		Shape: `{"summary": string, "patterns": [string], "recommendations": [string], "confidence": number 0..1}`,
		fields: []field{
			{path: "summary", kind: kindString},
			{path: "patterns", kind: kindStringArray},
			{path: "recommendations", kind: kindStringArray},
			{path: "confidence", kind: kindNumber, min: 0, max: 1},
		},
	},
	reasongate.UseCaseTradeReview: {
		Shape: `{"verdict": string, "strengths": [string], "weaknesses": [string], "riskScore": number 0..10, "confidence": number 0..1}`,
		fields: []field{
			{path: "verdict", kind: kindString},
			{path: "strengths", kind: kindStringArray},
			{path: "weaknesses", kind: kindStringArray},
			{path: "riskScore", kind: kindNumber, min: 0, max: 10},
			{path: "confidence", kind: kindNumber, min: 0, max: 1},
		},
	},
	reasongate.UseCaseSentimentPulse: {
		Shape: `{"sentiment": "bullish"|"bearish"|"neutral", "score": number -1..1, "drivers": [string], "confidence": number 0..1}`,
		fields: []field{
			{path: "sentiment", kind: kindString, enum: []string{"bullish", "bearish", "neutral"}},
			{path: "score", kind: kindNumber, min: -1, max: 1},
			{path: "drivers", kind: kindStringArray},
			{path: "confidence", kind: kindNumber, min: 0, max: 1},
		},
	},
	reasongate.UseCaseInsightCritic: {
		Shape: `{"issues": [string], "adjustedConfidence": number 0..1, "notes": [string]}`,
		fields: []field{
			{path: "issues", kind: kindStringArray},
			{path: "adjustedConfidence", kind: kindNumber, min: 0, max: 1},
			{path: "notes", kind: kindStringArray},
		},
	},
}

// SchemaFor returns the output schema of a use case.
func SchemaFor(uc reasongate.UseCase) (Schema, bool) {
	s, ok := schemas[uc]
	return s, ok
}

// Validate checks data against the use case's schema. Mismatches wrap
// ErrSchemaMismatch.
func Validate(uc reasongate.UseCase, data []byte) error {
	s, ok := schemas[uc]
	if !ok {
		return fmt.Errorf("%w: no schema for use case %q", ErrInvalidRequest, uc)
	}
	return s.Validate(data)
}

// Validate checks data against the schema.
func (s Schema) Validate(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: not valid JSON", ErrSchemaMismatch)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("%w: not a JSON object", ErrSchemaMismatch)
	}
	for _, f := range s.fields {
		if err := f.check(root.Get(f.path)); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrSchemaMismatch, f.path, err)
		}
	}
	return nil
}

func (f field) check(v gjson.Result) error {
	if !v.Exists() {
		return fmt.Errorf("missing")
	}
	switch f.kind {
	case kindString:
		if v.Type != gjson.String {
			return fmt.Errorf("want string, got %s", v.Type)
		}
		if len(f.enum) > 0 {
			for _, e := range f.enum {
				if v.Str == e {
					return nil
				}
			}
			return fmt.Errorf("%q is not one of %v", v.Str, f.enum)
		}
	case kindNumber:
		if v.Type != gjson.Number {
			return fmt.Errorf("want number, got %s", v.Type)
		}
		if n := v.Float(); math.IsNaN(n) || n < f.min || n > f.max {
			return fmt.Errorf("%v out of range [%v, %v]", n, f.min, f.max)
		}
	case kindStringArray:
		if !v.IsArray() {
			return fmt.Errorf("want array, got %s", v.Type)
		}
		for i, item := range v.Array() {
			if item.Type != gjson.String {
				return fmt.Errorf("item %d: want string, got %s", i, item.Type)
			}
		}
	}
	return nil
}

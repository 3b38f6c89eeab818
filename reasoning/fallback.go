package reasoning

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/baum777/reasongate"
)

// FallbackModel is reported as the model of offline generations and
// critiques.
const FallbackModel = "deterministic-v1"

var (
	bullishWords = map[string]bool{"bullish": true, "long": true, "buy": true, "breakout": true, "pump": true, "moon": true, "rally": true}
	bearishWords = map[string]bool{"bearish": true, "short": true, "sell": true, "breakdown": true, "dump": true, "crash": true, "selloff": true}
	riskyMoods   = map[string]bool{"fomo": true, "revenge": true, "greed": true, "fear": true, "impulsive": true, "tilt": true}
)

type journalInsight struct {
	Summary         string   `json:"summary"`
	Patterns        []string `json:"patterns"`
	Recommendations []string `json:"recommendations"`
	Confidence      float64  `json:"confidence"`
}

type tradeReview struct {
	Verdict    string   `json:"verdict"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	RiskScore  float64  `json:"riskScore"`
	Confidence float64  `json:"confidence"`
}

type sentimentPulse struct {
	Sentiment  string   `json:"sentiment"`
	Score      float64  `json:"score"`
	Drivers    []string `json:"drivers"`
	Confidence float64  `json:"confidence"`
}

// evidence summarises the leaves of a canonical context.
type evidence struct {
	leaves int
	words  []string
}

func collectEvidence(canonical []byte) evidence {
	var ev evidence
	var walk func(gjson.Result)
	walk = func(r gjson.Result) {
		if r.IsObject() || r.IsArray() {
			r.ForEach(func(_, v gjson.Result) bool {
				walk(v)
				return true
			})
			return
		}
		if r.Type == gjson.Null {
			return
		}
		ev.leaves++
		if r.Type == gjson.String {
			ev.words = append(ev.words, strings.FieldsFunc(strings.ToLower(r.Str), func(c rune) bool {
				return !unicode.IsLetter(c)
			})...)
		}
	}
	walk(gjson.ParseBytes(canonical))
	return ev
}

// baseConfidence grows with the amount of context, from 0.3 towards 0.7.
func (ev evidence) baseConfidence() float64 {
	return round2(0.3 + 0.4*(1-math.Exp(-float64(ev.leaves)/12)))
}

// fallbackGenerate derives a schema-valid result from the context alone.
func fallbackGenerate(uc reasongate.UseCase, referenceID string, canonical []byte) (json.RawMessage, error) {
	ev := collectEvidence(canonical)

	var out any
	switch uc {
	case reasongate.UseCaseJournalInsight:
		out = fallbackJournal(referenceID, canonical, ev)
	case reasongate.UseCaseTradeReview:
		out = fallbackTradeReview(canonical, ev)
	case reasongate.UseCaseSentimentPulse:
		out = fallbackSentiment(canonical, ev)
	default:
		return nil, fmt.Errorf("%w: no offline generator for %q", ErrInvalidRequest, uc)
	}
	return json.Marshal(out)
}

func fallbackJournal(referenceID string, canonical []byte, ev evidence) journalInsight {
	entries := gjson.GetBytes(canonical, "entries").Array()

	counts := map[string]int{}
	for _, e := range entries {
		for _, tag := range e.Get("tags").Array() {
			counts[strings.ToLower(tag.String())]++
		}
		if mood := e.Get("mood"); mood.Type == gjson.String {
			counts[strings.ToLower(mood.Str)]++
		}
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		if t != "" {
			tags = append(tags, t)
		}
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > 3 {
		tags = tags[:3]
	}

	out := journalInsight{
		Summary:         fmt.Sprintf("Reviewed %d journal entries for %s.", len(entries), referenceID),
		Patterns:        []string{},
		Recommendations: []string{},
		Confidence:      ev.baseConfidence(),
	}
	for _, t := range tags {
		out.Patterns = append(out.Patterns, fmt.Sprintf("Recurring %q in %d entries", t, counts[t]))
		if riskyMoods[t] {
			out.Recommendations = append(out.Recommendations, fmt.Sprintf("Pause and re-check the plan before trades tagged %q.", t))
		}
	}
	out.Recommendations = append(out.Recommendations, "Keep logging the rationale and exit reason for every trade.")
	if len(entries) == 0 {
		out.Confidence = 0.2
	}
	return out
}

func fallbackTradeReview(canonical []byte, ev evidence) tradeReview {
	trades := gjson.GetBytes(canonical, "trades").Array()

	var wins, losses, noStop int
	var total float64
	for _, t := range trades {
		pnl := t.Get("pnl").Float()
		total += pnl
		switch {
		case pnl > 0:
			wins++
		case pnl < 0:
			losses++
		}
		if !t.Get("stopLoss").Exists() {
			noStop++
		}
	}

	out := tradeReview{
		Strengths:  []string{},
		Weaknesses: []string{},
		Confidence: ev.baseConfidence(),
	}
	n := len(trades)
	if n == 0 {
		out.Verdict = "insufficient_data"
		out.Weaknesses = append(out.Weaknesses, "No trades in context.")
		out.RiskScore = 5
		out.Confidence = 0.2
		return out
	}

	winRate := float64(wins) / float64(n)
	switch {
	case winRate >= 0.6 && total > 0:
		out.Verdict = "positive"
	case winRate <= 0.4 || total < 0:
		out.Verdict = "negative"
	default:
		out.Verdict = "mixed"
	}

	if wins > 0 {
		out.Strengths = append(out.Strengths, fmt.Sprintf("%d of %d trades closed in profit.", wins, n))
	}
	if total > 0 {
		out.Strengths = append(out.Strengths, fmt.Sprintf("Net result %+.2f.", total))
	}
	if losses > 0 {
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%d of %d trades closed at a loss.", losses, n))
	}
	if noStop > 0 {
		out.Weaknesses = append(out.Weaknesses, fmt.Sprintf("%d trades had no stop loss.", noStop))
	}

	lossRatio := float64(losses) / float64(n)
	noStopRatio := float64(noStop) / float64(n)
	out.RiskScore = math.Round(clamp(10*(0.5*lossRatio+0.5*noStopRatio), 0, 10)*10) / 10
	return out
}

func fallbackSentiment(canonical []byte, ev evidence) sentimentPulse {
	var bull, bear int
	for _, w := range ev.words {
		switch {
		case bullishWords[w]:
			bull++
		case bearishWords[w]:
			bear++
		}
	}

	var parts []float64
	if bull+bear > 0 {
		parts = append(parts, float64(bull-bear)/float64(bull+bear))
	}
	scores := gjson.GetBytes(canonical, "signals.#.score").Array()
	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += clamp(s.Float(), -1, 1)
		}
		parts = append(parts, sum/float64(len(scores)))
	}

	var score float64
	for _, p := range parts {
		score += p / float64(len(parts))
	}
	score = round2(clamp(score, -1, 1))

	out := sentimentPulse{
		Sentiment:  "neutral",
		Score:      score,
		Drivers:    []string{},
		Confidence: ev.baseConfidence(),
	}
	switch {
	case score > 0.15:
		out.Sentiment = "bullish"
	case score < -0.15:
		out.Sentiment = "bearish"
	}

	if bull > 0 {
		out.Drivers = append(out.Drivers, fmt.Sprintf("%d bullish mentions", bull))
	}
	if bear > 0 {
		out.Drivers = append(out.Drivers, fmt.Sprintf("%d bearish mentions", bear))
	}
	if len(scores) > 0 {
		out.Drivers = append(out.Drivers, fmt.Sprintf("%d scored signals", len(scores)))
	}
	if len(parts) == 0 {
		out.Drivers = append(out.Drivers, "No directional signals in context.")
		out.Confidence = 0.2
	}
	return out
}

// fallbackCritique reviews a generation without a model. The adjusted
// confidence never exceeds the generator's.
func fallbackCritique(uc reasongate.UseCase, canonical, generation []byte) CriticReport {
	ev := collectEvidence(canonical)
	gen := gjson.ParseBytes(generation)
	confidence := clamp(gen.Get("confidence").Float(), 0, 1)

	var issues []string
	if ev.leaves < 5 && confidence > 0.5 {
		issues = append(issues, "Confidence is high for the amount of context provided.")
	}
	if s, ok := schemas[uc]; ok {
		for _, f := range s.fields {
			if f.kind == kindStringArray && len(gen.Get(f.path).Array()) == 0 {
				issues = append(issues, fmt.Sprintf("%s is empty.", f.path))
			}
		}
	}
	switch uc {
	case reasongate.UseCaseTradeReview:
		if gen.Get("verdict").String() == "insufficient_data" {
			issues = append(issues, "Not enough trades to judge performance.")
		}
	case reasongate.UseCaseSentimentPulse:
		score := gen.Get("score").Float()
		label := gen.Get("sentiment").String()
		if (label == "bullish" && score < 0) || (label == "bearish" && score > 0) {
			issues = append(issues, "Sentiment label disagrees with its score.")
		}
	}

	report := CriticReport{
		Issues:             []string{},
		AdjustedConfidence: floor2(clamp(confidence*(1-0.15*float64(len(issues))), 0, confidence)),
		Notes:              []string{},
	}
	report.Issues = append(report.Issues, issues...)
	for _, issue := range issues {
		report.Notes = append(report.Notes, "Review: "+issue)
	}
	return report
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func floor2(v float64) float64 {
	return math.Floor(v*100+1e-9) / 100
}

// Package reply turns raw model output into per-row labels.
package reply

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"sentiment-labeler/internal/models"

	"github.com/kaptinlin/jsonrepair"
)

// Partial is a parsed verdict before the signature is attached.
type Partial struct {
	Label   models.Label
	Score   float64
	Sarcasm bool
	Ethics  models.Ethics
}

// Record attaches the cache key fields.
func (p Partial) Record(id int64, sig, model string) models.LabelRecord {
	ethics := p.Ethics
	if ethics == nil {
		ethics = models.Ethics{}
	}
	return models.LabelRecord{
		ID:        id,
		Label:     p.Label,
		Score:     p.Score,
		Sarcasm:   p.Sarcasm,
		Ethics:    ethics,
		Signature: sig,
		Model:     model,
	}
}

var (
	leadingID = regexp.MustCompile(`^\d+`)
	nonDigits = regexp.MustCompile(`\D`)
)

// Parse extracts verdicts from a reply. It accepts a JSON object keyed by id
// with L/S/Z/E fields or pipe separated lines id|label|score|sarcasm|ethics.
// When expected is non-empty, ids outside it are dropped. Parse never fails;
// unusable input yields an empty map.
func Parse(raw string, expected []int64) map[int64]Partial {
	text := stripFences(raw)

	var out map[int64]Partial
	if strings.HasPrefix(text, "{") {
		if parsed, ok := parseJSON(text); ok {
			out = parsed
		}
	}
	if out == nil {
		out = parseLines(text)
	}

	if len(expected) > 0 {
		want := make(map[int64]bool, len(expected))
		for _, id := range expected {
			want[id] = true
		}
		for id := range out {
			if !want[id] {
				delete(out, id)
			}
		}
	}
	return out
}

func parseJSON(text string) (map[int64]Partial, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
			return nil, false
		}
	}

	out := make(map[int64]Partial, len(obj))
	for key, value := range obj {
		fields, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := digitsID(key)
		if !ok {
			continue
		}
		out[id] = normalize(
			field(fields, "L", "label"),
			field(fields, "S", "score"),
			field(fields, "Z", "sarcasm"),
			field(fields, "E", "ethics"),
		)
	}
	return out, true
}

func parseLines(text string) map[int64]Partial {
	out := make(map[int64]Partial)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "#"))
		if !leadingID.MatchString(line) {
			continue
		}

		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 4 {
			continue
		}
		if len(parts) == 4 {
			parts = append(parts, models.EthicsNone)
		}

		id, ok := digitsID(parts[0])
		if !ok {
			continue
		}
		out[id] = normalize(parts[1], parts[2], parts[3], parts[4])
	}
	return out
}

func normalize(label, score, sarcasm, ethics string) Partial {
	l := models.ParseLabel(label)
	return Partial{
		Label:   l,
		Score:   models.ParseScore(score, l),
		Sarcasm: models.ParseSarcasm(sarcasm),
		Ethics:  models.ParseEthics(ethics),
	}
}

func digitsID(s string) (int64, bool) {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func field(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// stripFences removes a surrounding markdown code block if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "|{") {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

package models

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Label is the sentiment class assigned to a row.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
	Neutral  Label = "neutral"
)

// ParseLabel maps free-form model output to a Label. Unknown values are neutral.
func ParseLabel(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "-" || strings.HasPrefix(s, "neg"):
		return Negative
	case s == "+" || strings.HasPrefix(s, "pos"):
		return Positive
	}
	return Neutral
}

// EthicsTag is one entry of the closed ethics vocabulary.
type EthicsTag string

const (
	EthicsBias            EthicsTag = "bias"
	EthicsPrivacy         EthicsTag = "privacy"
	EthicsTransparency    EthicsTag = "transparency"
	EthicsAccountability  EthicsTag = "accountability"
	EthicsJobDisplacement EthicsTag = "job_displacement"
	EthicsSafety          EthicsTag = "safety"
	EthicsMisinformation  EthicsTag = "misinformation"
	EthicsGovernance      EthicsTag = "governance"
	EthicsOther           EthicsTag = "other"
)

// EthicsNone is the serialized form of an empty tag set.
const EthicsNone = "none"

// EthicsVocabulary lists every accepted tag in prompt order.
var EthicsVocabulary = []EthicsTag{
	EthicsBias,
	EthicsPrivacy,
	EthicsTransparency,
	EthicsAccountability,
	EthicsJobDisplacement,
	EthicsSafety,
	EthicsMisinformation,
	EthicsGovernance,
	EthicsOther,
}

// ethicsShortCodes maps the single-letter codes models sometimes emit.
var ethicsShortCodes = map[string]string{
	"n": EthicsNone,
	"b": string(EthicsBias),
	"p": string(EthicsPrivacy),
	"t": string(EthicsTransparency),
	"a": string(EthicsAccountability),
	"j": string(EthicsJobDisplacement),
	"s": string(EthicsSafety),
	"m": string(EthicsMisinformation),
	"g": string(EthicsGovernance),
	"o": string(EthicsOther),
}

var ethicsKnown = func() map[EthicsTag]bool {
	m := make(map[EthicsTag]bool, len(EthicsVocabulary))
	for _, tag := range EthicsVocabulary {
		m[tag] = true
	}
	return m
}()

// Ethics is a sorted, duplicate-free set of tags. The empty set means "none".
type Ethics []EthicsTag

// ParseEthics normalizes a comma separated tag list. Short codes are expanded and
// anything outside the vocabulary is dropped.
func ParseEthics(raw string) Ethics {
	seen := make(map[EthicsTag]bool)
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		p = strings.NewReplacer(" ", "_", "-", "_").Replace(p)
		if full, ok := ethicsShortCodes[p]; ok {
			p = full
		}
		tag := EthicsTag(p)
		if ethicsKnown[tag] {
			seen[tag] = true
		}
	}

	out := make(Ethics, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set the way the ledger stores it.
func (e Ethics) String() string {
	if len(e) == 0 {
		return EthicsNone
	}
	parts := make([]string, len(e))
	for i, tag := range e {
		parts[i] = string(tag)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON emits the ledger form, e.g. "bias,privacy" or "none".
func (e Ethics) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON accepts the ledger string or a list of tags.
func (e *Ethics) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var tags []string
		if err := json.Unmarshal(data, &tags); err != nil {
			return err
		}
		raw = strings.Join(tags, ",")
	}
	*e = ParseEthics(raw)
	return nil
}

// ParseSarcasm reports whether raw is one of 1, y, yes, true.
func ParseSarcasm(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "y", "yes", "true":
		return true
	}
	return false
}

// ParseScore reads a polarity score and aligns it with label. Unparseable input is 0.
func ParseScore(raw string, label Label) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		v = 0
	}
	return AlignScore(v, label)
}

// AlignScore clamps v to [-1, 1] and forces its sign to agree with label.
// Neutral rows always score 0.
func AlignScore(v float64, label Label) float64 {
	if math.IsNaN(v) || v == 0 {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	switch label {
	case Positive:
		return math.Abs(v)
	case Negative:
		return -math.Abs(v)
	}
	return 0
}

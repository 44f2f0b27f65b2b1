package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	cases := map[string]Label{
		"positive":  Positive,
		"POS":       Positive,
		"+":         Positive,
		" negative": Negative,
		"neg":       Negative,
		"-":         Negative,
		"neutral":   Neutral,
		"mixed":     Neutral,
		"":          Neutral,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLabel(in), "input %q", in)
	}
}

func TestParseScoreAgreesWithLabel(t *testing.T) {
	assert.Equal(t, 0.8, ParseScore("0.8", Positive))
	assert.Equal(t, 0.8, ParseScore("-0.8", Positive))
	assert.Equal(t, -0.6, ParseScore("0.6", Negative))
	assert.Equal(t, -1.0, ParseScore("-7", Negative))
	assert.Equal(t, 1.0, ParseScore("3", Positive))
	assert.Equal(t, 0.0, ParseScore("0.9", Neutral))
	assert.Equal(t, 0.0, ParseScore("abc", Positive))
	assert.Equal(t, 0.0, ParseScore("NaN", Negative))
}

func TestAlignScoreNeverNegativeZero(t *testing.T) {
	assert.False(t, math.Signbit(AlignScore(0, Negative)))
	assert.False(t, math.Signbit(AlignScore(-0.0, Positive)))
}

func TestParseSarcasm(t *testing.T) {
	for _, in := range []string{"1", "y", "YES", "true", " True "} {
		assert.True(t, ParseSarcasm(in), in)
	}
	for _, in := range []string{"0", "no", "false", "", "2"} {
		assert.False(t, ParseSarcasm(in), in)
	}
}

func TestParseEthics(t *testing.T) {
	assert.Equal(t, "none", ParseEthics("none").String())
	assert.Equal(t, "none", ParseEthics("").String())
	assert.Equal(t, "none", ParseEthics("n").String())
	assert.Equal(t, "bias,privacy", ParseEthics("privacy, bias,privacy").String())
	assert.Equal(t, "job_displacement,safety", ParseEthics("s,j").String())
	assert.Equal(t, "job_displacement", ParseEthics("Job Displacement").String())
	assert.Equal(t, "bias", ParseEthics("bias,weather,none").String())
	assert.Equal(t, "accountability,governance,misinformation,other,transparency",
		ParseEthics("o,g,m,a,t").String())
}

func TestDefaultRecord(t *testing.T) {
	rec := DefaultRecord(7, "abc")
	assert.Equal(t, Neutral, rec.Label)
	assert.Zero(t, rec.Score)
	assert.False(t, rec.Sarcasm)
	assert.Equal(t, "none", rec.Ethics.String())
	assert.True(t, rec.Unresolved)
}

func TestEthicsJSON(t *testing.T) {
	data, err := json.Marshal(LabelRecord{ID: 1, Label: Negative, Ethics: ParseEthics("p,b")})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"llm_ethics":"bias,privacy"`)

	data, err = json.Marshal(LabelRecord{ID: 2, Label: Neutral})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"llm_ethics":"none"`)

	var rec LabelRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"llm_ethics":"privacy,bias"}`), &rec))
	assert.Equal(t, Ethics{EthicsBias, EthicsPrivacy}, rec.Ethics)

	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"llm_ethics":["safety","nonsense"]}`), &rec))
	assert.Equal(t, Ethics{EthicsSafety}, rec.Ethics)

	assert.Error(t, json.Unmarshal([]byte(`{"llm_ethics":5}`), &rec))
}

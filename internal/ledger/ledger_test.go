package ledger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sentiment-labeler/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleRecords() []models.LabelRecord {
	return []models.LabelRecord{
		{ID: 3, Label: models.Negative, Score: -0.25, Sarcasm: true, Ethics: models.ParseEthics("bias,privacy"), Signature: "ccc"},
		{ID: 1, Label: models.Positive, Score: 0.8, Ethics: models.Ethics{}, Signature: "aaa"},
		{ID: 2, Label: models.Neutral, Score: 0, Ethics: models.Ethics{}, Signature: "bbb"},
	}
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "labels_qwen_qwen3-coder_free.csv", FileName("qwen/qwen3-coder:free"))
	assert.Equal(t, filepath.Join("out", "labels_m.csv"), PathFor("out", "m"))
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName("a/b:c"))

	l := New()
	assert.Equal(t, 3, l.Merge(sampleRecords()...))
	require.NoError(t, l.WriteFile(path))

	loaded := Load(path, zap.NewNop())
	if diff := cmp.Diff(l.Records(), loaded.Records()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	ids := []int64{}
	for _, r := range loaded.Records() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestWriteFormat(t *testing.T) {
	l := New()
	l.Merge(sampleRecords()...)

	var buf bytes.Buffer
	require.NoError(t, l.Write(&buf))
	assert.Equal(t, strings.Join([]string{
		"id,llm_label,llm_score,llm_sarcasm,llm_ethics,cache_sig",
		"1,positive,0.8,False,none,aaa",
		"2,neutral,0,False,none,bbb",
		`3,negative,-0.25,True,"bias,privacy",ccc`,
		"",
	}, "\n"), buf.String())
}

func TestMergeKeepsExisting(t *testing.T) {
	l := New()
	l.Merge(models.LabelRecord{ID: 1, Label: models.Positive, Score: 0.5, Signature: "s1"})

	added := l.Merge(
		models.LabelRecord{ID: 1, Label: models.Negative, Score: -0.5, Signature: "s1"},
		models.LabelRecord{ID: 1, Label: models.Negative, Score: -0.5, Signature: "s2", Model: "m"},
		models.LabelRecord{ID: 2, Label: models.Neutral, Signature: "s3", Unresolved: true},
	)
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, l.Len())
	assert.False(t, l.Has(Key{ID: 2, Signature: "s3"}))

	got, ok := l.Get(Key{ID: 1, Signature: "s1"})
	require.True(t, ok)
	assert.Equal(t, models.Positive, got.Label)

	got, ok = l.Get(Key{ID: 1, Signature: "s2"})
	require.True(t, ok)
	assert.Empty(t, got.Model)
	assert.False(t, got.Unresolved)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, Load(filepath.Join(dir, "nope.csv"), zap.NewNop()).Len())

	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("id,llm_label,llm_score,llm_sarcasm,llm_ethics,cache_sig\n1,\"unterminated\n"), 0o644))
	assert.Equal(t, 0, Load(bad, zap.NewNop()).Len())

	noSig := filepath.Join(dir, "nosig.csv")
	require.NoError(t, os.WriteFile(noSig, []byte("id,llm_label\n1,positive\n"), 0o644))
	assert.Equal(t, 0, Load(noSig, zap.NewNop()).Len())
}

func TestReadToleratesPandasOutput(t *testing.T) {
	raw := "\ufeffid,llm_label,llm_score,llm_sarcasm,llm_ethics,cache_sig,model\n" +
		"5.0,negative,0.4,True,\"privacy, b\",abc,x\n" +
		"oops,positive,1,False,none,def,x\n" +
		"6,neutral,0.9,false,,ghi,x\n"
	l, err := Read(strings.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())

	got, ok := l.Get(Key{ID: 5, Signature: "abc"})
	require.True(t, ok)
	assert.Equal(t, -0.4, got.Score)
	assert.True(t, got.Sarcasm)
	assert.Equal(t, "bias,privacy", got.Ethics.String())

	got, ok = l.Get(Key{ID: 6, Signature: "ghi"})
	require.True(t, ok)
	assert.Equal(t, 0.0, got.Score)
}

func TestWriteFileReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels_m.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	l := New()
	l.Merge(sampleRecords()[:1]...)
	require.NoError(t, l.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "id,llm_label"))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

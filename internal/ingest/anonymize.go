package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strconv"

	"sentiment-labeler/internal/models"
)

// IDSpace bounds derived ids to five digits.
const IDSpace = 100000

var (
	urlPattern    = regexp.MustCompile(`https?://\S+`)
	emailPattern  = regexp.MustCompile(`\S+@\S+\.\S+`)
	handlePattern = regexp.MustCompile(`@\w+`)
)

// StripPII masks URLs, e-mail addresses and @handles.
func StripPII(text string) string {
	text = urlPattern.ReplaceAllString(text, "[URL]")
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	return handlePattern.ReplaceAllString(text, "[REDACTED]")
}

// ShortID derives an anonymized id from a platform-native id and the text.
func ShortID(sourceID, text string) int64 {
	sum := sha1.Sum([]byte(sourceID + "||" + text))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:10], 16, 64)
	return int64(v % IDSpace)
}

// Anonymize strips PII from every row's text in place.
func Anonymize(rows []models.InputRow) {
	for i := range rows {
		rows[i].Text = StripPII(rows[i].Text)
	}
}

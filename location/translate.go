package location

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// TranslationFallback is returned in place of a translation when the
// upstream call fails or yields nothing.
const TranslationFallback = "Translation error."

// Translate renders text in the target language, detecting the source
// language. Failures are logged and yield TranslationFallback.
func (c *Client) Translate(ctx context.Context, text, targetLang string) string {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", targetLang)
	q.Set("dt", "t")
	q.Set("q", text)

	var resp []json.RawMessage
	if err := c.getJSON(ctx, c.translateTimeout, c.endpoints.Translate+"?"+q.Encode(), &resp); err != nil {
		zap.L().Warn("Translation failed", zap.String("target_lang", targetLang), zap.Error(err))
		return TranslationFallback
	}
	if len(resp) == 0 {
		return TranslationFallback
	}

	// The first element lists [translated, original, ...] per sentence.
	var segments [][]json.RawMessage
	if err := json.Unmarshal(resp[0], &segments); err != nil {
		zap.L().Warn("Unexpected translation payload", zap.String("target_lang", targetLang), zap.Error(err))
		return TranslationFallback
	}

	var b strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(seg[0], &part); err != nil {
			continue
		}
		b.WriteString(part)
	}
	if b.Len() == 0 {
		return TranslationFallback
	}
	return b.String()
}

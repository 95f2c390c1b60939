package api

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"
)

const (
	fallbackTranslationConfidence = 0.8
	fallbackOCRConfidence         = 0.7
	fallbackSpeechConfidence      = 0.6

	// FallbackRecordsKey is where SaveTranslation keeps records while offline.
	FallbackRecordsKey = "fallback-translations"
)

var errNoRecordStore = ewrap.New("no record store configured")

// canned answers keyed by "<source>-<target>"
var fallbackPhrases = map[string]string{
	"ar-en": "Hello, how are you?",
	"en-ar": "مرحبا، كيف حالك؟",
	"ar-fr": "Bonjour, comment allez-vous?",
	"fr-ar": "مرحبا، كيف حالك؟",
}

// FallbackPhrase returns the canned translation for a language pair, or the
// bracketed input when the pair is unknown.
func FallbackPhrase(text, sourceLang, targetLang string) string {
	if s, ok := fallbackPhrases[sourceLang+"-"+targetLang]; ok {
		return s
	}
	return "[Translated: " + text + "]"
}

// isoTimestamp matches the backend's millisecond UTC timestamps.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (c *Client) fallbackTranslation(text, sourceLang, targetLang string) Translation {
	c.log.Info("using fallback translation", "pair", sourceLang+"-"+targetLang)
	return Translation{
		Success:        true,
		OriginalText:   text,
		TranslatedText: FallbackPhrase(text, sourceLang, targetLang),
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Confidence:     fallbackTranslationConfidence,
		Timestamp:      isoTimestamp(c.now()),
		Fallback:       true,
	}
}

func (c *Client) fallbackOCR() OCRResult {
	c.log.Info("using fallback ocr")
	return OCRResult{
		Success:        true,
		ExtractedText:  "Sample extracted text from image",
		TranslatedText: "نص عينة مستخرج من الصورة",
		Confidence:     fallbackOCRConfidence,
		Language:       "ar",
		Timestamp:      isoTimestamp(c.now()),
		Fallback:       true,
	}
}

func (c *Client) fallbackTranscript() Transcript {
	c.log.Info("using fallback speech recognition")
	return Transcript{
		Success:    true,
		Text:       "مرحبا، كيف حالك؟",
		Confidence: fallbackSpeechConfidence,
		Language:   "ar",
		Timestamp:  isoTimestamp(c.now()),
		Fallback:   true,
	}
}

// fallbackSpeech leaves AudioURL nil so the caller uses local synthesis.
func (c *Client) fallbackSpeech(text, language string) Speech {
	c.log.Info("using fallback tts")
	return Speech{
		Success:   true,
		Duration:  float64(utf8.RuneCountInString(text)) * 0.1,
		Language:  language,
		Voice:     "default",
		Timestamp: isoTimestamp(c.now()),
		Fallback:  true,
	}
}

func (c *Client) fallbackSmartTranslation(text string) SmartTranslation {
	c.log.Info("using fallback smart translation")
	return SmartTranslation{
		Success:        true,
		OriginalText:   text,
		TranslatedText: "[Smart Translation: " + text + "]",
		Alternatives: []string{
			"[Alternative 1: " + text + "]",
			"[Alternative 2: " + text + "]",
		},
		Confidence:  fallbackTranslationConfidence,
		Mode:        "contextual",
		ContentType: "general",
		Insights:    Insights{Complexity: "medium", Sentiment: "neutral", Domain: "general"},
		Timestamp:   isoTimestamp(c.now()),
		Fallback:    true,
	}
}

func (c *Client) fallbackConversation(message, participantID string) ConversationTurn {
	c.log.Info("using fallback conversation")
	now := c.now()
	return ConversationTurn{
		Success:       true,
		Message:       message,
		Translation:   "[Translated: " + message + "]",
		ParticipantID: participantID,
		SessionID:     strconv.FormatInt(now.UnixMilli(), 10),
		Timestamp:     isoTimestamp(now),
		Fallback:      true,
	}
}

func (c *Client) fallbackTranslations(limit, offset int) TranslationPage {
	c.log.Info("using fallback get translations")
	return TranslationPage{
		Success:      true,
		Translations: []TranslationRecord{},
		Limit:        limit,
		Offset:       offset,
		Fallback:     true,
	}
}

// fallbackSave appends the record to the local store with a fresh id and
// timestamp.
func (c *Client) fallbackSave(ctx context.Context, rec TranslationRecord) SaveResult {
	c.log.Info("using fallback save translation")
	failed := SaveResult{Error: "Failed to save translation", Fallback: true}

	if c.records == nil {
		c.log.Error("fallback save failed", "err", errNoRecordStore)
		return failed
	}
	id, err := uuid.NewV7()
	if err != nil {
		c.log.Error("fallback save failed", "err", err)
		return failed
	}
	rec.ID = id.String()
	rec.Timestamp = isoTimestamp(c.now())

	b, err := json.Marshal(rec)
	if err != nil {
		c.log.Error("fallback save failed", "err", err)
		return failed
	}
	if err := c.records.Append(ctx, b); err != nil {
		c.log.Error("fallback save failed", "err", err)
		return failed
	}
	return SaveResult{Success: true, Translation: &rec, Fallback: true}
}

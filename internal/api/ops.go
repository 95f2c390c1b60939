package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
)

const DefaultPageSize = 50

// call posts a JSON body and decodes the response into out.
func (c *Client) call(ctx context.Context, method, endpoint string, in, out any, opts ...RequestOption) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return ewrap.Wrap(err, "encode request")
		}
		body = b
	}
	raw, err := c.Request(ctx, method, endpoint, body, opts...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ewrap.Wrapf(err, "decode %s", endpoint)
	}
	return nil
}

// Translate translates text; mode defaults to "contextual".
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang, mode string) Translation {
	if mode == "" {
		mode = "contextual"
	}
	in := map[string]string{
		"text":       text,
		"sourceLang": sourceLang,
		"targetLang": targetLang,
		"mode":       mode,
	}
	var out Translation
	if err := c.call(ctx, http.MethodPost, "/translate", in, &out); err != nil {
		return c.fallbackTranslation(text, sourceLang, targetLang)
	}
	return out
}

// OCR uploads an image and returns the extracted and translated text.
// targetLang defaults to "en".
func (c *Client) OCR(ctx context.Context, image io.Reader, filename, targetLang string) OCRResult {
	if targetLang == "" {
		targetLang = "en"
	}
	body, ct, err := multipartBody("image", filename, image, map[string]string{"targetLang": targetLang})
	if err != nil {
		c.log.Error("ocr request", "err", err)
		return c.fallbackOCR()
	}
	var out OCRResult
	if err := c.decode(ctx, "/ocr", body, ct, &out); err != nil {
		return c.fallbackOCR()
	}
	return out
}

// SpeechToText uploads audio for transcription. language defaults to "auto".
func (c *Client) SpeechToText(ctx context.Context, audio io.Reader, filename, language string) Transcript {
	if language == "" {
		language = "auto"
	}
	body, ct, err := multipartBody("audio", filename, audio, map[string]string{"language": language})
	if err != nil {
		c.log.Error("speech request", "err", err)
		return c.fallbackTranscript()
	}
	var out Transcript
	if err := c.decode(ctx, "/speech-to-text", body, ct, &out); err != nil {
		return c.fallbackTranscript()
	}
	return out
}

func (c *Client) decode(ctx context.Context, endpoint string, body []byte, contentType string, out any) error {
	raw, err := c.Request(ctx, http.MethodPost, endpoint, body, WithRequestHeader("Content-Type", contentType))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ewrap.Wrapf(err, "decode %s", endpoint)
	}
	return nil
}

// multipartBody is built once so every retry resends the same bytes.
func multipartBody(field, filename string, file io.Reader, values map[string]string) ([]byte, string, error) {
	if file == nil {
		return nil, "", ewrap.New("missing " + field)
	}
	if filename == "" {
		filename = field
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", ewrap.Wrap(err, "create form file")
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, "", ewrap.Wrapf(err, "read %s", field)
	}
	for k, v := range values {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", ewrap.Wrapf(err, "write field %s", k)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", ewrap.Wrap(err, "close multipart")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// TextToSpeech defaults language to "en" and voice to "default".
func (c *Client) TextToSpeech(ctx context.Context, text, language, voice string) Speech {
	if language == "" {
		language = "en"
	}
	if voice == "" {
		voice = "default"
	}
	in := map[string]string{"text": text, "language": language, "voice": voice}
	var out Speech
	if err := c.call(ctx, http.MethodPost, "/text-to-speech", in, &out); err != nil {
		return c.fallbackSpeech(text, language)
	}
	return out
}

func (c *Client) SmartTranslate(ctx context.Context, req SmartRequest) SmartTranslation {
	var out SmartTranslation
	if err := c.call(ctx, http.MethodPost, "/smart-translate", req, &out); err != nil {
		return c.fallbackSmartTranslation(req.Text)
	}
	return out
}

func (c *Client) ProcessConversation(ctx context.Context, message, participantID, language, sessionID string) ConversationTurn {
	in := map[string]string{
		"message":       message,
		"participantId": participantID,
		"language":      language,
		"sessionId":     sessionID,
	}
	var out ConversationTurn
	if err := c.call(ctx, http.MethodPost, "/conversation", in, &out); err != nil {
		return c.fallbackConversation(message, participantID)
	}
	return out
}

// GetTranslations lists saved translations. A non-positive limit means
// DefaultPageSize.
func (c *Client) GetTranslations(ctx context.Context, userID string, limit, offset int) TranslationPage {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out TranslationPage
	if err := c.call(ctx, http.MethodGet, "/translations?"+q.Encode(), nil, &out); err != nil {
		return c.fallbackTranslations(limit, offset)
	}
	return out
}

// SaveTranslation stores a translation on the backend, or in the local record
// store when the backend is unreachable.
func (c *Client) SaveTranslation(ctx context.Context, rec TranslationRecord) SaveResult {
	var out SaveResult
	if err := c.call(ctx, http.MethodPost, "/translations", rec, &out); err != nil {
		return c.fallbackSave(ctx, rec)
	}
	return out
}

// LocalTranslations returns the records saved while offline, oldest first.
func (c *Client) LocalTranslations(ctx context.Context) ([]TranslationRecord, error) {
	if c.records == nil {
		return nil, errNoRecordStore
	}
	raw, err := c.records.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TranslationRecord, 0, len(raw))
	for _, b := range raw {
		var r TranslationRecord
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, ewrap.Wrap(err, "decode local translation")
		}
		out = append(out, r)
	}
	return out, nil
}

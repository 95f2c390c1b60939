package api

// Fallback marks a result produced locally because the backend could not be
// reached. Every result type carries it.

type Translation struct {
	Success        bool    `json:"success"`
	OriginalText   string  `json:"originalText"`
	TranslatedText string  `json:"translatedText"`
	SourceLanguage string  `json:"sourceLanguage"`
	TargetLanguage string  `json:"targetLanguage"`
	Mode           string  `json:"mode,omitempty"`
	Confidence     float64 `json:"confidence"`
	Timestamp      string  `json:"timestamp"`
	Fallback       bool    `json:"fallback,omitempty"`
}

type OCRResult struct {
	Success        bool    `json:"success"`
	ExtractedText  string  `json:"extractedText"`
	TranslatedText string  `json:"translatedText"`
	Confidence     float64 `json:"confidence"`
	Language       string  `json:"language"`
	Timestamp      string  `json:"timestamp"`
	Fallback       bool    `json:"fallback,omitempty"`
}

type Transcript struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Timestamp  string  `json:"timestamp"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Speech has a nil AudioURL when the caller should synthesize locally.
type Speech struct {
	Success   bool    `json:"success"`
	AudioURL  *string `json:"audioUrl"`
	Duration  float64 `json:"duration"`
	Language  string  `json:"language"`
	Voice     string  `json:"voice"`
	Timestamp string  `json:"timestamp"`
	Fallback  bool    `json:"fallback,omitempty"`
}

type SmartRequest struct {
	Text        string `json:"text"`
	SourceLang  string `json:"sourceLang"`
	TargetLang  string `json:"targetLang"`
	Mode        string `json:"mode,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Context     string `json:"context,omitempty"`
}

type Insights struct {
	Complexity string `json:"complexity"`
	Sentiment  string `json:"sentiment"`
	Domain     string `json:"domain"`
}

type SmartTranslation struct {
	Success        bool     `json:"success"`
	OriginalText   string   `json:"originalText"`
	TranslatedText string   `json:"translatedText"`
	Alternatives   []string `json:"alternatives"`
	Confidence     float64  `json:"confidence"`
	Mode           string   `json:"mode"`
	ContentType    string   `json:"contentType"`
	Insights       Insights `json:"insights"`
	Timestamp      string   `json:"timestamp"`
	Fallback       bool     `json:"fallback,omitempty"`
}

type ConversationTurn struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Translation   string `json:"translation"`
	ParticipantID string `json:"participantId"`
	SessionID     string `json:"sessionId"`
	Timestamp     string `json:"timestamp"`
	Fallback      bool   `json:"fallback,omitempty"`
}

// TranslationRecord is a saved translation as stored by the backend.
type TranslationRecord struct {
	ID             string `json:"id,omitempty"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	SourceLang     string `json:"sourceLang"`
	TargetLang     string `json:"targetLang"`
	UserID         string `json:"userId,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

type TranslationPage struct {
	Success      bool                `json:"success"`
	Translations []TranslationRecord `json:"translations"`
	Total        int                 `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
	Fallback     bool                `json:"fallback,omitempty"`
}

type SaveResult struct {
	Success     bool               `json:"success"`
	Translation *TranslationRecord `json:"translation,omitempty"`
	Error       string             `json:"error,omitempty"`
	Fallback    bool               `json:"fallback,omitempty"`
}

// Command offline0-api calls the voice-translator backend through the
// resilient client and prints the JSON result. Results produced while the
// backend is unreachable carry "fallback": true.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	json "github.com/goccy/go-json"

	"offline0/internal/api"
	"offline0/internal/config"
	"offline0/internal/logger"
	"offline0/internal/storage"
)

const usage = `usage: offline0-api [-config path] <command> [flags]

commands:
  health         probe GET /health
  translate      -text -from -to [-mode]
  smart          -text -from -to [-mode] [-content-type] [-context]
  tts            -text [-lang] [-voice]
  ocr            -file [-to]
  stt            -file [-lang]
  conversation   -message -participant [-lang] [-session]
  list           [-user] [-limit] [-offset]
  save           -original -translated -from -to [-user]
  local          list translations saved while offline
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", getenvDefault("OFFLINE0_CONFIG", "/offline0.yaml"), "path to offline0.yaml")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "offline0-api: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, cmd string, args []string) error {
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	records, closeRecords, err := storage.OpenRecords(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer func() { _ = closeRecords() }()

	client := api.New(cfg.API.BaseURL,
		api.WithTimeout(cfg.APITimeout()),
		api.WithMaxRetries(cfg.APIMaxRetries()),
		api.WithBackoff(cfg.APIBackoff()),
		api.WithLogger(logger.New(os.Stderr, cfg.Logging.Level)),
		api.WithRecordStore(records),
	)

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		text        = fs.String("text", "", "text to translate or speak")
		from        = fs.String("from", "", "source language")
		to          = fs.String("to", "", "target language")
		mode        = fs.String("mode", "", "translation mode")
		contentType = fs.String("content-type", "", "content type hint")
		hint        = fs.String("context", "", "context hint")
		lang        = fs.String("lang", "", "language")
		voice       = fs.String("voice", "", "tts voice")
		file        = fs.String("file", "", "image or audio file")
		message     = fs.String("message", "", "conversation message")
		participant = fs.String("participant", "", "participant id")
		session     = fs.String("session", "", "conversation session id")
		user        = fs.String("user", "", "user id")
		limit       = fs.Int("limit", api.DefaultPageSize, "page size")
		offset      = fs.Int("offset", 0, "page offset")
		original    = fs.String("original", "", "original text")
		translated  = fs.String("translated", "", "translated text")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var out any
	switch cmd {
	case "health":
		h, err := client.CheckConnection(ctx)
		if err != nil {
			return err
		}
		out = h
	case "translate":
		out = client.Translate(ctx, *text, *from, *to, *mode)
	case "smart":
		out = client.SmartTranslate(ctx, api.SmartRequest{
			Text:        *text,
			SourceLang:  *from,
			TargetLang:  *to,
			Mode:        *mode,
			ContentType: *contentType,
			Context:     *hint,
		})
	case "tts":
		out = client.TextToSpeech(ctx, *text, *lang, *voice)
	case "ocr", "stt":
		f, err := openFile(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		if cmd == "ocr" {
			out = client.OCR(ctx, f, filepath.Base(*file), *to)
		} else {
			out = client.SpeechToText(ctx, f, filepath.Base(*file), *lang)
		}
	case "conversation":
		out = client.ProcessConversation(ctx, *message, *participant, *lang, *session)
	case "list":
		out = client.GetTranslations(ctx, *user, *limit, *offset)
	case "save":
		out = client.SaveTranslation(ctx, api.TranslationRecord{
			OriginalText:   *original,
			TranslatedText: *translated,
			SourceLang:     *from,
			TargetLang:     *to,
			UserID:         *user,
		})
	case "local":
		local, err := client.LocalTranslations(ctx)
		if err != nil {
			return err
		}
		out = local
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return printJSON(os.Stdout, out)
}

func openFile(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("-file is required")
	}
	return os.Open(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

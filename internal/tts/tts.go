// Package tts turns briefing narratives into audio and recovers sentence timings
// from the synthesized audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyline/internal/config"
	"storyline/internal/core"
	"storyline/internal/retry"
)

// ProviderType identifies a speech synthesis backend
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderElevenLabs ProviderType = "elevenlabs"
	ProviderMock       ProviderType = "mock"
	ProviderNone       ProviderType = "none"
)

// ErrDisabled is returned by NewSynthesizer when synthesis is turned off.
var ErrDisabled = errors.New("speech synthesis disabled")

// Audio is synthesized speech.
type Audio struct {
	Data     []byte
	Format   string  // File extension, e.g. "mp3"
	Duration float64 // Seconds; 0 when the provider does not report it
}

// Synthesizer converts text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, locale string) (*Audio, error)
	Name() string
}

// Aligner recovers sentence timings from synthesized audio.
type Aligner interface {
	Align(ctx context.Context, audio *Audio, transcript, locale string) ([]core.Sentence, error)
}

// NewSynthesizer builds the configured synthesizer. Provider "none" yields ErrDisabled.
func NewSynthesizer(cfg config.TTS, openaiCfg config.OpenAIConfig, policy retry.Policy) (Synthesizer, error) {
	timeout := config.Duration(cfg.Timeout, 3*time.Minute)
	switch ProviderType(cfg.DefaultProvider) {
	case ProviderOpenAI:
		key := cfg.Providers.OpenAI.APIKey
		if key == "" {
			key = openaiCfg.APIKey
		}
		if key == "" {
			return nil, fmt.Errorf("openai speech requires an API key")
		}
		return NewOpenAISynthesizer(OpenAIOptions{
			APIKey:  key,
			BaseURL: openaiCfg.BaseURL,
			Model:   cfg.Providers.OpenAI.Model,
			Voice:   cfg.DefaultVoice,
			Speed:   float64(cfg.DefaultSpeed),
			Timeout: timeout,
			Policy:  policy,
		}), nil
	case ProviderElevenLabs:
		if cfg.Providers.ElevenLabs.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs requires an API key")
		}
		return NewElevenLabsSynthesizer(ElevenLabsOptions{
			APIKey:  cfg.Providers.ElevenLabs.APIKey,
			VoiceID: cfg.Providers.ElevenLabs.VoiceID,
			Model:   cfg.Providers.ElevenLabs.Model,
			Timeout: timeout,
			Policy:  policy,
		}), nil
	case ProviderMock:
		return NewMockSynthesizer(float64(cfg.DefaultSpeed)), nil
	case ProviderNone, "":
		return nil, ErrDisabled
	}
	return nil, fmt.Errorf("unsupported TTS provider: %s", cfg.DefaultProvider)
}

// spokenSymbols spells out symbols per language. Languages without an entry
// keep the symbols, which their voices read natively.
var spokenSymbols = map[string][]string{
	"en": {"&", " and ", "%", " percent"},
	"es": {"&", " y ", "%", " por ciento"},
	"fr": {"&", " et ", "%", " pour cent"},
	"de": {"&", " und ", "%", " Prozent"},
}

// PrepareText makes narrative text speech friendly for locale: markdown emphasis,
// URLs and a few symbols are rewritten. Sentence punctuation is left intact for alignment.
func PrepareText(text, locale string) string {
	pairs := []string{"**", "", "*", "", "`", "", "#", ""}
	pairs = append(pairs, spokenSymbols[language(locale)]...)
	text = strings.NewReplacer(pairs...).Replace(text)

	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		var words []string
		for _, w := range strings.Fields(p) {
			if strings.HasPrefix(w, "http://") || strings.HasPrefix(w, "https://") {
				continue
			}
			words = append(words, w)
		}
		if len(words) > 0 {
			paragraphs = append(paragraphs, strings.Join(words, " "))
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// language reduces a locale such as "en-US" to its language code.
func language(locale string) string {
	key := strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(key, "-_"); i > 0 {
		key = key[:i]
	}
	return key
}

// EstimateDuration estimates spoken length in seconds at about 155 words per minute.
func EstimateDuration(text string, speed float64) float64 {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return float64(words) / (155.0 * speed) * 60
}

// StagedAudio is audio written next to its final path. Commit moves it into
// place; Discard removes it.
type StagedAudio struct {
	Path string
	tmp  string
}

// StageAudio writes audio under dir for <date>-<locale>.<format> without
// replacing an existing file at that path.
func StageAudio(dir string, date time.Time, locale string, audio *Audio) (*StagedAudio, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	format := audio.Format
	if format == "" {
		format = "mp3"
	}
	name := fmt.Sprintf("%s-%s.%s", date.Format("2006-01-02"), locale, format)
	f, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create audio file: %w", err)
	}
	if _, err := f.Write(audio.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	return &StagedAudio{Path: filepath.Join(dir, name), tmp: f.Name()}, nil
}

// Commit moves the staged file to Path, replacing any earlier audio
func (s *StagedAudio) Commit() error {
	if err := os.Rename(s.tmp, s.Path); err != nil {
		return fmt.Errorf("failed to move audio into place: %w", err)
	}
	return nil
}

// Discard removes the staged file
func (s *StagedAudio) Discard() {
	_ = os.Remove(s.tmp)
}

package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyline/internal/core"
	"storyline/internal/retry"

	"github.com/sashabaranov/go-openai"
)

// OpenAIOptions configures the OpenAI speech endpoints.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Speed   float64
	Timeout time.Duration
	Policy  retry.Policy
}

func newOpenAIClient(opts OpenAIOptions) *openai.Client {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	return openai.NewClientWithConfig(clientConfig)
}

// OpenAISynthesizer speaks text with the OpenAI speech API.
type OpenAISynthesizer struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAISynthesizer creates an OpenAI synthesizer.
func NewOpenAISynthesizer(opts OpenAIOptions) *OpenAISynthesizer {
	if opts.Model == "" {
		opts.Model = string(openai.TTSModel1)
	}
	if opts.Voice == "" {
		opts.Voice = string(openai.VoiceAlloy)
	}
	if opts.Speed <= 0 {
		opts.Speed = 1.0
	}
	return &OpenAISynthesizer{client: newOpenAIClient(opts), opts: opts}
}

func (s *OpenAISynthesizer) Name() string { return string(ProviderOpenAI) }

// Synthesize returns mp3 audio. The voice is multilingual, so locale only shapes logs.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, locale string) (*Audio, error) {
	var data []byte
	err := s.opts.Policy.Do(ctx, func(ctx context.Context) error {
		resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(s.opts.Model),
			Input:          text,
			Voice:          openai.SpeechVoice(s.opts.Voice),
			ResponseFormat: openai.SpeechResponseFormatMp3,
			Speed:          s.opts.Speed,
		})
		if err != nil {
			return err
		}
		defer resp.Close()
		data, err = io.ReadAll(resp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech (%s): %w", locale, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai speech (%s): empty audio", locale)
	}
	return &Audio{Data: data, Format: "mp3"}, nil
}

// WhisperAligner transcribes audio with segment timestamps and merges the
// segments into sentences.
type WhisperAligner struct {
	client *openai.Client
	policy retry.Policy
}

// NewWhisperAligner creates an aligner on the OpenAI transcription API.
func NewWhisperAligner(opts OpenAIOptions) *WhisperAligner {
	return &WhisperAligner{client: newOpenAIClient(opts), policy: opts.Policy}
}

// Align returns sentence timings for audio. The transcript primes the model's
// vocabulary; the returned text is what was heard.
func (a *WhisperAligner) Align(ctx context.Context, audio *Audio, transcript, locale string) ([]core.Sentence, error) {
	if audio == nil || len(audio.Data) == 0 {
		return nil, fmt.Errorf("no audio to align")
	}
	format := audio.Format
	if format == "" {
		format = "mp3"
	}

	var resp openai.AudioResponse
	err := a.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = a.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:                  openai.Whisper1,
			FilePath:               "briefing." + format,
			Reader:                 bytes.NewReader(audio.Data),
			Prompt:                 promptFrom(transcript),
			Language:               languageCode(locale),
			Format:                 openai.AudioResponseFormatVerboseJSON,
			TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("whisper alignment: %w", err)
	}

	fragments := make([]core.Sentence, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		fragments = append(fragments, core.Sentence{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	sentences := MergeSentences(fragments, locale)
	duration := resp.Duration
	if duration <= 0 {
		duration = audio.Duration
	}
	if duration > 0 {
		audio.Duration = duration
		clampTo(sentences, duration)
	}
	return sentences, nil
}

// promptFrom keeps the transcript prefix Whisper accepts as a prompt.
func promptFrom(transcript string) string {
	runes := []rune(strings.TrimSpace(transcript))
	if len(runes) > 800 {
		runes = runes[:800]
	}
	return string(runes)
}

func languageCode(locale string) string {
	l := strings.ToLower(locale)
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	return l
}

func clampTo(sentences []core.Sentence, duration float64) {
	for i := range sentences {
		if sentences[i].End > duration {
			sentences[i].End = duration
		}
		if sentences[i].Start > sentences[i].End {
			sentences[i].Start = sentences[i].End
		}
	}
}

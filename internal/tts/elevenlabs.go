package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storyline/internal/retry"
)

const (
	defaultElevenLabsURL   = "https://api.elevenlabs.io"
	defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

// ElevenLabsOptions configures the ElevenLabs synthesizer.
type ElevenLabsOptions struct {
	APIKey  string
	VoiceID string
	Model   string
	BaseURL string
	Timeout time.Duration
	Policy  retry.Policy
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	LanguageCode  string                  `json:"language_code,omitempty"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsSynthesizer speaks text with the ElevenLabs API.
type ElevenLabsSynthesizer struct {
	opts   ElevenLabsOptions
	client *http.Client
}

// NewElevenLabsSynthesizer creates an ElevenLabs synthesizer.
func NewElevenLabsSynthesizer(opts ElevenLabsOptions) *ElevenLabsSynthesizer {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultElevenLabsURL
	}
	if opts.VoiceID == "" {
		opts.VoiceID = defaultElevenLabsVoice
	}
	if opts.Model == "" {
		opts.Model = "eleven_multilingual_v2"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	return &ElevenLabsSynthesizer{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

func (s *ElevenLabsSynthesizer) Name() string { return string(ProviderElevenLabs) }

// Synthesize returns mp3 audio for text.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, locale string) (*Audio, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       s.opts.Model,
		LanguageCode:  languageCode(locale),
		VoiceSettings: elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.5},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", s.opts.BaseURL, s.opts.VoiceID)

	var data []byte
	err = s.opts.Policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.opts.APIKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("ElevenLabs API error %d: %s", resp.StatusCode, string(msg))
			if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return retry.Permanent(err)
			}
			return err
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Audio{Data: data, Format: "mp3"}, nil
}

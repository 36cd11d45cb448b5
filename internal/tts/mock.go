package tts

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"storyline/internal/core"
)

// MockSynthesizer produces placeholder audio whose duration is estimated from the text.
type MockSynthesizer struct {
	speed float64
}

// NewMockSynthesizer creates a mock synthesizer.
func NewMockSynthesizer(speed float64) *MockSynthesizer {
	if speed <= 0 {
		speed = 1
	}
	return &MockSynthesizer{speed: speed}
}

func (m *MockSynthesizer) Name() string { return string(ProviderMock) }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, locale string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("nothing to synthesize")
	}
	data := fmt.Sprintf("MOCK AUDIO locale=%s chars=%d\n%s", locale, utf8.RuneCountInString(text), text)
	return &Audio{Data: []byte(data), Format: "txt", Duration: EstimateDuration(text, m.speed)}, nil
}

// ProportionalAligner spreads the audio duration over the transcript's sentences
// by character count. It needs no model and serves dry runs and tests.
type ProportionalAligner struct{}

func (ProportionalAligner) Align(ctx context.Context, audio *Audio, transcript, locale string) ([]core.Sentence, error) {
	if audio == nil || audio.Duration <= 0 {
		return nil, fmt.Errorf("audio duration unknown")
	}
	parts := SplitSentences(transcript)
	total := 0
	for _, p := range parts {
		total += utf8.RuneCountInString(p)
	}
	if total == 0 {
		return nil, nil
	}

	sentences := make([]core.Sentence, len(parts))
	elapsed := 0
	for i, p := range parts {
		start := audio.Duration * float64(elapsed) / float64(total)
		elapsed += utf8.RuneCountInString(p)
		sentences[i] = core.Sentence{Text: p, Start: start, End: audio.Duration * float64(elapsed) / float64(total)}
	}
	sentences[len(sentences)-1].End = audio.Duration
	return sentences, nil
}

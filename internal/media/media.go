// Package media provides the speech and image services behind the
// textToSpeech and imageGeneration executors. Builtin generators produce
// valid WAV and PNG bytes offline; HTTP adapters delegate to an external
// service with the same contract.
package media

import "context"

type SpeechRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Rate  float64 `json:"rate,omitempty"`
	Pitch float64 `json:"pitch,omitempty"`
}

type ImageRequest struct {
	Prompt string `json:"prompt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Style  string `json:"style,omitempty"`
}

// Synthesizer converts text to audio. Returns the encoded blob and its MIME
// type.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, string, error)
}

// Generator renders an image for a prompt. Returns the encoded blob and its
// MIME type.
type Generator interface {
	Generate(ctx context.Context, req ImageRequest) ([]byte, string, error)
}

package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	sampleRate    = 8000
	baseToneHz    = 220.0
	minDuration   = 200  // ms
	maxDuration   = 8000 // ms
	defaultImageW = 256
	defaultImageH = 256
	maxImageDim   = 2048
)

// BuiltinSynthesizer renders text as a deterministic PCM tone sequence, one
// tone per character, wrapped in a RIFF/WAVE container. Output is stable for
// equal requests so artifact digests dedupe.
type BuiltinSynthesizer struct{}

func (BuiltinSynthesizer) Synthesize(_ context.Context, req SpeechRequest) ([]byte, string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, "", fmt.Errorf("speech: empty text")
	}
	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	pitch := req.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	base := baseToneHz * pitch * voiceShift(req.Voice)

	perChar := 60.0 / rate // ms per character
	totalMS := clampF(float64(len(text))*perChar, minDuration, maxDuration)
	total := int(totalMS * sampleRate / 1000)
	chars := []rune(text)
	perSample := total / len(chars)
	if perSample < 1 {
		perSample = 1
	}

	samples := make([]int16, 0, total)
	for _, r := range chars {
		freq := base + float64(r%32)*12
		for i := 0; i < perSample && len(samples) < total; i++ {
			v := math.Sin(2 * math.Pi * freq * float64(len(samples)) / sampleRate)
			samples = append(samples, int16(v*12000))
		}
	}
	return encodeWAV(samples), "audio/wav", nil
}

func voiceShift(voice string) float64 {
	switch strings.ToLower(strings.TrimSpace(voice)) {
	case "", "default":
		return 1
	case "low":
		return 0.7
	case "high":
		return 1.4
	default:
		// Any other voice name maps to a stable shift.
		sum := blake3.Sum256([]byte(strings.ToLower(voice)))
		return 0.8 + float64(sum[0])/255.0*0.8
	}
}

// encodeWAV wraps 16-bit mono PCM samples in a RIFF/WAVE container.
func encodeWAV(samples []int16) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// BuiltinGenerator renders a deterministic gradient keyed by the prompt
// digest, encoded as PNG.
type BuiltinGenerator struct{}

func (BuiltinGenerator) Generate(_ context.Context, req ImageRequest) ([]byte, string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, "", fmt.Errorf("image: empty prompt")
	}
	w, h := req.Width, req.Height
	if w <= 0 {
		w = defaultImageW
	}
	if h <= 0 {
		h = defaultImageH
	}
	if w > maxImageDim || h > maxImageDim {
		return nil, "", fmt.Errorf("image: dimensions %dx%d exceed %d", w, h, maxImageDim)
	}

	seed := prompt
	if req.Style != "" {
		seed = prompt + "\x00" + req.Style
	}
	sum := blake3.Sum256([]byte(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := sum[(x+y)%32]
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(int(sum[0]) + x*255/w),
				G: uint8(int(sum[1]) + y*255/h),
				B: uint8(int(k) + (x^y)%64),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/png", nil
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

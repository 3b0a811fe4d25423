package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const httpRequestTimeout = 2 * time.Minute

// HTTPSynthesizer posts the request as JSON and expects raw audio back, the
// MIME type in the Content-Type header.
type HTTPSynthesizer struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, string, error) {
	return postJSON(ctx, s.Client, s.URL, req, "audio/wav")
}

// HTTPGenerator posts the request as JSON and expects raw image bytes back.
type HTTPGenerator struct {
	URL    string
	Client *http.Client
}

func (g *HTTPGenerator) Generate(ctx context.Context, req ImageRequest) ([]byte, string, error) {
	return postJSON(ctx, g.Client, g.URL, req, "image/png")
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, fallbackMIME string) ([]byte, string, error) {
	if client == nil {
		client = &http.Client{Timeout: httpRequestTimeout}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media service: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(blob)))
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || mime == "application/octet-stream" {
		mime = fallbackMIME
	}
	return blob, mime, nil
}

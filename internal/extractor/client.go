package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"vigil/internal/audio/wav"
	"vigil/pkg/circuit"
	"vigil/pkg/sentinel"
)

// Client talks to the face and voice embedding services over HTTP. Each
// upstream sits behind its own circuit breaker so a dead model server is
// refused fast instead of burning the check cycle's budget on timeouts.
type Client struct {
	faceURL  string
	voiceURL string
	http     *http.Client

	faceBreaker  *circuit.Breaker
	voiceBreaker *circuit.Breaker
}

func NewClient(faceURL, voiceURL string, timeout time.Duration) *Client {
	return &Client{
		faceURL:      faceURL,
		voiceURL:     voiceURL,
		http:         &http.Client{Timeout: timeout},
		faceBreaker:  circuit.New(5, 30*time.Second),
		voiceBreaker: circuit.New(5, 30*time.Second),
	}
}

// extractResponse is the wire contract of both embedding services.
type extractResponse struct {
	Embedding []float64 `json:"embedding"`
	// Set when the model saw the input fine but found no face / no speech.
	NoSignal bool   `json:"no_signal"`
	Detail   string `json:"detail,omitempty"`
}

// ExtractFace maps an image to a face embedding.
func (c *Client) ExtractFace(ctx context.Context, imageBytes []byte) ([]float64, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("empty image: %w", sentinel.ErrExtractionFailed)
	}
	return c.post(ctx, c.faceURL+"/v1/embed/face", "image/jpeg", imageBytes, c.faceBreaker)
}

// ExtractVoice maps a voice capture to a voice embedding. The payload must
// be the capture contract container (WAV, PCM mono 16-bit 16 kHz); other
// encodings are rejected, never resampled.
func (c *Client) ExtractVoice(ctx context.Context, audioBytes []byte) ([]float64, error) {
	samples, err := wav.Decode(audioBytes)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty capture: %w", sentinel.ErrExtractionFailed)
	}
	return c.post(ctx, c.voiceURL+"/v1/embed/voice", "audio/wav", audioBytes, c.voiceBreaker)
}

func (c *Client) post(ctx context.Context, url, contentType string, body []byte, breaker *circuit.Breaker) ([]float64, error) {
	if !breaker.Allow() {
		return nil, fmt.Errorf("circuit open for %s: %w", url, sentinel.ErrTransport)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("call %s: %v: %w", url, err, sentinel.ErrTransport)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service inspected the input and found no biometric signal.
		breaker.RecordSuccess()
		return nil, fmt.Errorf("no signal in input: %w", sentinel.ErrExtractionFailed)
	case resp.StatusCode >= 500:
		breaker.RecordFailure()
		return nil, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, sentinel.ErrTransport)
	default:
		breaker.RecordSuccess()
		return nil, fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, sentinel.ErrExtractionFailed)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("read response: %v: %w", err, sentinel.ErrTransport)
	}

	var out extractResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("decode response: %v: %w", err, sentinel.ErrTransport)
	}
	breaker.RecordSuccess()

	if out.NoSignal || len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%s: %w", out.Detail, sentinel.ErrExtractionFailed)
	}
	return out.Embedding, nil
}

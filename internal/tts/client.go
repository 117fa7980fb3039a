// Package tts provides the synthesis backends that can be bound to a slot.
//
// Each backend wraps exactly one model instance: an HTTP model server or a
// local chatllm binary. The gateway guarantees a backend is never asked to
// synthesize two texts at once, so none of them carry their own locking.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/tts-gateway/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeXWAV   = "audio/x-wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "%w: expected audio/wav, got %q"
	errFmtServiceErrorWithCode  = "%w (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "%w: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when asked to synthesize an empty string.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrUnexpectedContentType indicates a model server answered with non-WAV data.
	ErrUnexpectedContentType = errors.New("unexpected content type")
	// ErrEmptyAudio indicates a successful response without audio bytes.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrServiceStatus indicates a non-OK response from the model server.
	ErrServiceStatus = errors.New("TTS service returned non-OK status")
)

// HTTPClient talks to one standalone model server.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ core.Synthesizer = (*HTTPClient)(nil)

// Request is the JSON payload for a speech generation call.
type Request struct {
	Text string `json:"text"`

	// SpeakerRefPath is the server-side path of the cloning sample. Empty
	// selects the server's default voice.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	Language     string    `json:"language"`
	Temperature  float64   `json:"temperature"`
	Emotion      []float64 `json:"emotion,omitempty"`
	SpeakingRate float64   `json:"speaking_rate,omitempty"`
	PitchStd     float64   `json:"pitch_std,omitempty"`
	Seed         int       `json:"seed,omitempty"`
}

// ErrorResponse is the structured error body a model server may return.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPClient creates a client for the model server at baseURL, e.g.
// "http://localhost:8000". timeout bounds every request.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the model server address.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Synthesize implements core.Synthesizer.
func (c *HTTPClient) Synthesize(
	ctx context.Context,
	text string,
	profile core.SpeakerProfile,
	params core.Parameters,
) ([]byte, error) {
	return c.GenerateSpeech(ctx, Request{
		Text:           text,
		SpeakerRefPath: profile.ReferencePath,
		Language:       profile.Language,
		Temperature:    params.Temperature,
		Emotion:        params.Emotion,
		SpeakingRate:   params.SpeakingRate,
		PitchStd:       params.PitchStd,
		Seed:           params.Seed,
	})
}

// GenerateSpeech sends a generation request and returns the WAV bytes.
func (c *HTTPClient) GenerateSpeech(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !isWAVContentType(contentType) {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies that the model server reports itself healthy.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func isWAVContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}

	return mediaType == contentTypeWAV || mediaType == contentTypeXWAV
}

// parseErrorResponse prefers the structured JSON error and falls back to the
// raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
}

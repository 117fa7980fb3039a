package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAudioData = "RIFF....WAVEfmt "

func testProfile() core.SpeakerProfile {
	return core.SpeakerProfile{ReferencePath: "/srv/voices/cloning_sample.wav", Language: "ko"}
}

func testParams() core.Parameters {
	return core.Parameters{
		Emotion:      []float64{0.1, 0, 0, 0, 0, 0, 0, 0.9},
		SpeakingRate: 23,
		PitchStd:     20,
		Temperature:  0.75,
		Seed:         7,
	}
}

func TestHTTPClient_Synthesize_Success(t *testing.T) {
	t.Parallel()

	var received tts.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate/speech", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "audio/wav", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL+"/", 5*time.Second)
	assert.Equal(t, server.URL, client.BaseURL())

	audio, err := client.Synthesize(context.Background(), "안녕하세요", testProfile(), testParams())
	require.NoError(t, err)

	assert.Equal(t, testAudioData, string(audio))
	assert.Equal(t, "안녕하세요", received.Text)
	assert.Equal(t, "/srv/voices/cloning_sample.wav", received.SpeakerRefPath)
	assert.Equal(t, "ko", received.Language)
	assert.Equal(t, testParams().Emotion, received.Emotion)
	assert.InEpsilon(t, 23.0, received.SpeakingRate, 0.001)
	assert.InEpsilon(t, 20.0, received.PitchStd, 0.001)
	assert.Equal(t, 7, received.Seed)
}

func TestHTTPClient_GenerateSpeech_EmptyText(t *testing.T) {
	t.Parallel()

	client := tts.NewHTTPClient("http://127.0.0.1:1", time.Second)

	_, err := client.GenerateSpeech(context.Background(), tts.Request{Text: "  "})
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}

func TestHTTPClient_GenerateSpeech_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantErr     error
		wantMessage string
	}{
		{
			name: "structured error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"detail":"Invalid speaker reference path","error_code":"INVALID_SPEAKER_PATH"}`))
			},
			wantErr:     tts.ErrServiceStatus,
			wantMessage: "INVALID_SPEAKER_PATH",
		},
		{
			name: "plain error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("CUDA out of memory"))
			},
			wantErr:     tts.ErrServiceStatus,
			wantMessage: "CUDA out of memory",
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte("not audio"))
			},
			wantErr:     tts.ErrUnexpectedContentType,
			wantMessage: "text/plain",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "audio/x-wav")
			},
			wantErr: tts.ErrEmptyAudio,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(testCase.handler)
			defer server.Close()

			client := tts.NewHTTPClient(server.URL, 5*time.Second)

			_, err := client.GenerateSpeech(context.Background(), tts.Request{Text: "hello"})
			require.ErrorIs(t, err, testCase.wantErr)

			if testCase.wantMessage != "" {
				assert.Contains(t, err.Error(), testCase.wantMessage)
			}
		})
	}
}

func TestHTTPClient_GenerateSpeech_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte(testAudioData))
	}))
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 20*time.Millisecond)

	_, err := client.GenerateSpeech(context.Background(), tts.Request{Text: "hello"})
	require.Error(t, err)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	require.NoError(t, tts.NewHTTPClient(healthy.URL, time.Second).HealthCheck(context.Background()))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	require.Error(t, tts.NewHTTPClient(failing.URL, time.Second).HealthCheck(context.Background()))
}

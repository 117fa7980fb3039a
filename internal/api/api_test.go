package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/api"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/service"
	"github.com/book-expert/tts-gateway/internal/slots"
	"github.com/book-expert/tts-gateway/internal/stats"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userHeader = "X-User-Email"

var errBackendDown = errors.New("backend down")

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", key, core.ErrObjectNotFound)
	}

	return data, nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.objects[key] = data

	return nil
}

func (m *memoryStore) List(context.Context, string) ([]string, error) { return nil, nil }

func (m *memoryStore) URL(key string) string { return "http://audio.test/" + key }

type fakeSynthesis struct {
	mu          sync.Mutex
	singleCalls []service.SingleRequest
	batchCalls  []service.BatchRequest
	singleErr   error
	batch       service.BatchResult
	batchErr    error
	outputs     *memoryStore
}

func (f *fakeSynthesis) SynthesizeOne(_ context.Context, req service.SingleRequest) (service.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.singleCalls = append(f.singleCalls, req)
	if f.singleErr != nil {
		return service.Result{}, f.singleErr
	}

	key := "tts_outputs/kim/1019/질문 " + req.QuestionNumber + ".wav"

	return service.Result{Slot: "A", Key: key, URL: "http://audio.test/" + key}, nil
}

func (f *fakeSynthesis) SynthesizeBatch(_ context.Context, req service.BatchRequest) (service.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls = append(f.batchCalls, req)

	return f.batch, f.batchErr
}

func (f *fakeSynthesis) Slots() []slots.SlotState {
	return []slots.SlotState{{Name: "A", Index: 0, Held: true}, {Name: "B", Index: 1}}
}

func (f *fakeSynthesis) FreeSlots() int { return 1 }

func (f *fakeSynthesis) Outputs() core.ObjectStore { return f.outputs }

func newServer(t *testing.T, fake *fakeSynthesis, mutate func(cfg *api.RouterConfig)) *echo.Echo {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "api-test.log")
	require.NoError(t, err)

	if fake.outputs == nil {
		fake.outputs = &memoryStore{objects: map[string][]byte{}}
	}

	cfg := api.RouterConfig{Service: fake, Log: testLogger, UserHeader: userHeader}
	if mutate != nil {
		mutate(&cfg)
	}

	e := echo.New()
	api.SetupRouter(e, cfg)

	return e
}

func do(e *echo.Echo, method, target, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	if user != "" {
		req.Header.Set(userHeader, user)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestQuestion(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{}
	e := newServer(t, fake, nil)

	rec := do(e, http.MethodPost, "/v1/tts/question", "kim@example.com", `{"text":"자기소개","question_number":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "TTS 생성 및 업로드 성공", body["message"])
	assert.Equal(t, "http://audio.test/tts_outputs/kim/1019/질문 3.wav", body["file_url"])
	assert.Equal(t, "A", body["slot"])
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	require.Len(t, fake.singleCalls, 1)
	assert.Equal(t, service.SingleRequest{User: "kim@example.com", Text: "자기소개", QuestionNumber: "3"}, fake.singleCalls[0])
}

func TestQuestion_AcceptsFormsAndLabels(t *testing.T) {
	t.Parallel()

	form := url.Values{"text": {"폼으로 보낸 질문"}, "question_number": {"3"}}

	var multipartBody bytes.Buffer

	writer := multipart.NewWriter(&multipartBody)
	require.NoError(t, writer.WriteField("text", "멀티파트 질문"))
	require.NoError(t, writer.WriteField("question_number", "4-2"))
	require.NoError(t, writer.Close())

	tests := []struct {
		name        string
		contentType string
		body        string
		want        service.SingleRequest
	}{
		{
			name:        "urlencoded form",
			contentType: echo.MIMEApplicationForm,
			body:        form.Encode(),
			want:        service.SingleRequest{User: "kim", Text: "폼으로 보낸 질문", QuestionNumber: "3"},
		},
		{
			name:        "multipart form",
			contentType: writer.FormDataContentType(),
			body:        multipartBody.String(),
			want:        service.SingleRequest{User: "kim", Text: "멀티파트 질문", QuestionNumber: "4-2"},
		},
		{
			name:        "json string label",
			contentType: echo.MIMEApplicationJSON,
			body:        `{"text":"hello","question_number":"3-1"}`,
			want:        service.SingleRequest{User: "kim", Text: "hello", QuestionNumber: "3-1"},
		},
		{
			name:        "json number",
			contentType: echo.MIMEApplicationJSON,
			body:        `{"text":"hello","question_number":12}`,
			want:        service.SingleRequest{User: "kim", Text: "hello", QuestionNumber: "12"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			fake := &fakeSynthesis{}
			e := newServer(t, fake, nil)

			req := httptest.NewRequest(http.MethodPost, "/v1/tts/question", strings.NewReader(testCase.body))
			req.Header.Set(echo.HeaderContentType, testCase.contentType)
			req.Header.Set(userHeader, "kim")

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, fake.singleCalls, 1)
			assert.Equal(t, testCase.want, fake.singleCalls[0])
		})
	}
}

func TestQuestion_RejectsNonScalarLabel(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{}
	e := newServer(t, fake, nil)

	rec := do(e, http.MethodPost, "/v1/tts/question", "kim", `{"text":"x","question_number":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.singleCalls)
}

func TestQuestion_RequiresUser(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{}
	e := newServer(t, fake, nil)

	rec := do(e, http.MethodPost, "/v1/tts/question", "", `{"text":"x","question_number":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], userHeader)
	assert.Empty(t, fake.singleCalls)
}

func TestQuestion_BadBody(t *testing.T) {
	t.Parallel()

	e := newServer(t, &fakeSynthesis{}, nil)

	rec := do(e, http.MethodPost, "/v1/tts/question", "kim", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", decode(t, rec)["error"])
}

func TestQuestion_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "busy", err: slots.ErrUnavailable, status: http.StatusServiceUnavailable},
		{name: "missing text", err: service.ErrTextRequired, status: http.StatusBadRequest},
		{name: "bad params", err: fmt.Errorf("%w: x", service.ErrInvalidParameters), status: http.StatusBadRequest},
		{name: "backend", err: fmt.Errorf("failed to synthesize on slot A: %w", errBackendDown), status: http.StatusInternalServerError},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			e := newServer(t, &fakeSynthesis{singleErr: testCase.err}, nil)

			rec := do(e, http.MethodPost, "/v1/tts/question", "kim", `{"text":"x","question_number":"1"}`)
			assert.Equal(t, testCase.status, rec.Code)
			assert.Equal(t, testCase.err.Error(), decode(t, rec)["error"])

			if testCase.status == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{batch: service.BatchResult{Items: []service.ItemResult{
		{TextFile: "kim/q1.txt", TTSFileURL: "http://audio.test/q1.wav", Status: service.ItemOK},
		{TextFile: "kim/q2.txt", Status: service.ItemFailed, Error: "boom"},
	}}}
	e := newServer(t, fake, nil)

	rec := do(e, http.MethodPost, "/v1/tts/batch", "kim@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "TTS 생성 및 업로드 성공 (batch)", body["message"])
	assert.InDelta(t, 1, body["succeeded"], 0)

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)

	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kim/q1.txt", first["text_file"])
	assert.Equal(t, "http://audio.test/q1.wav", first["tts_file_url"])
	assert.Equal(t, []service.BatchRequest{{User: "kim@example.com"}}, fake.batchCalls)
}

func TestBatch_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no text files", func(t *testing.T) {
		t.Parallel()

		e := newServer(t, &fakeSynthesis{batchErr: fmt.Errorf("%w: kim/", service.ErrNoTextFiles)}, nil)

		rec := do(e, http.MethodPost, "/v1/tts/batch", "kim", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("aborted keeps partial results", func(t *testing.T) {
		t.Parallel()

		fake := &fakeSynthesis{
			batch: service.BatchResult{Items: []service.ItemResult{
				{TextFile: "kim/q1.txt", Status: service.ItemFailed},
				{TextFile: "kim/q2.txt", Status: service.ItemSkipped},
			}},
			batchErr: fmt.Errorf("%w: kim/q1.txt: %w", service.ErrBatchAborted, core.ErrObjectNotFound),
		}
		e := newServer(t, fake, nil)

		rec := do(e, http.MethodPost, "/v1/tts/batch", "kim", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		results, ok := decode(t, rec)["results"].([]any)
		require.True(t, ok)
		assert.Len(t, results, 2)
	})
}

func TestSlotsAndHealth(t *testing.T) {
	t.Parallel()

	recorder := stats.NewMemoryRecorder()
	require.NoError(t, recorder.Record(context.Background(), stats.Event{Slot: "A", Outcome: stats.OutcomeAcquired}))

	e := newServer(t, &fakeSynthesis{}, func(cfg *api.RouterConfig) { cfg.Stats = recorder })

	rec := do(e, http.MethodGet, "/v1/slots", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"slots":[{"name":"A","index":0,"held":true},{"name":"B","index":1,"held":false}],"free":1}`,
		rec.Body.String())

	rec = do(e, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","slots":2,"free":1}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/v1/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"acquired":1`)
}

func TestAudio(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{outputs: &memoryStore{objects: map[string][]byte{
		"tts_outputs/kim/1019/질문 1.wav": []byte("RIFF-audio"),
	}}}
	e := newServer(t, fake, nil)

	rec := do(e, http.MethodGet, "/v1/audio/tts_outputs/kim/1019/%EC%A7%88%EB%AC%B8%201.wav", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "RIFF-audio", rec.Body.String())

	rec = do(e, http.MethodGet, "/v1/audio/tts_outputs/kim/missing.wav", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	fake := &fakeSynthesis{}
	e := newServer(t, fake, func(cfg *api.RouterConfig) {
		cfg.RatePerSecond = 0.001
		cfg.Burst = 1
	})

	body := `{"text":"x","question_number":1}`

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/v1/tts/question", "kim", body).Code)

	denied := do(e, http.MethodPost, "/v1/tts/question", "kim", body)
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
	assert.Contains(t, decode(t, denied)["error"], "kim")

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/v1/tts/question", "lee", body).Code)
	assert.Len(t, fake.singleCalls, 2)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusServiceUnavailable, api.StatusFor(fmt.Errorf("x: %w", slots.ErrUnavailable)))
	assert.Equal(t, http.StatusUnauthorized, api.StatusFor(service.ErrUserRequired))
	assert.Equal(t, http.StatusBadRequest, api.StatusFor(service.ErrQuestionNumberRequired))
	assert.Equal(t, http.StatusNotFound, api.StatusFor(fmt.Errorf("x: %w", core.ErrObjectNotFound)))
	assert.Equal(t, http.StatusInternalServerError, api.StatusFor(errBackendDown))
}

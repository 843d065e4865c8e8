package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/skypro1111/realtime-asr-service/internal/audio"
	"github.com/skypro1111/realtime-asr-service/internal/pipeline"
)

func testChunk() *audio.Chunk {
	return &audio.Chunk{
		ID:         7,
		SampleRate: 16000,
		Samples:    make([]int16, 1600),
	}
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoint: endpoint,
		APIKey:   "test-key",
		Model:    "whisper-1",
		Language: "en",
		Prompt:   "technical vocabulary",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Error("Expected error for missing endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://localhost"}); err == nil {
		t.Error("Expected error for missing API key")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	var gotAuth, gotModel, gotLanguage, gotPrompt string
	var gotFile []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("ParseMultipartForm failed: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLanguage = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
		} else {
			gotFile = make([]byte, 44)
			file.Read(gotFile)
			file.Close()
		}

		fmt.Fprint(w, `{"text": "  hello transcribed world "}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	text, err := c.Transcribe(context.Background(), testChunk())
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello transcribed world" {
		t.Errorf("Expected trimmed text, got %q", text)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	if gotModel != "whisper-1" || gotLanguage != "en" || gotPrompt != "technical vocabulary" {
		t.Errorf("Form fields not forwarded: model=%q language=%q prompt=%q",
			gotModel, gotLanguage, gotPrompt)
	}
	if len(gotFile) < 4 || string(gotFile[:4]) != "RIFF" {
		t.Error("Expected uploaded file to be WAV encoded")
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTranscribeStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   pipeline.Kind
	}{
		{http.StatusUnauthorized, pipeline.KindAuth},
		{http.StatusForbidden, pipeline.KindAuth},
		{http.StatusTooManyRequests, pipeline.KindRateLimited},
		{http.StatusInternalServerError, pipeline.KindNetworkError},
		{http.StatusBadGateway, pipeline.KindNetworkError},
		{http.StatusBadRequest, pipeline.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream says no", tc.status)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Transcribe(context.Background(), testChunk())
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := pipeline.KindOf(err); got != tc.want {
				t.Errorf("Expected kind %s, got %s (%v)", tc.want, got, err)
			}
			var se *pipeline.StageError
			if !errors.As(err, &se) || se.Stage != "transcribe" {
				t.Errorf("Expected transcribe stage error, got %v", err)
			}
		})
	}
}

func TestTranscribeTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	c := newTestClient(t, server.URL)
	_, err := c.Transcribe(context.Background(), testChunk())
	if err == nil {
		t.Fatal("Expected error for refused connection")
	}
	if got := pipeline.KindOf(err); got != pipeline.KindNetworkError {
		t.Errorf("Expected network_error, got %s", got)
	}

	stats := c.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeEmptyChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text": "x"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	chunk := testChunk()
	chunk.Samples = nil
	if _, err := c.Transcribe(context.Background(), chunk); err == nil {
		t.Error("Expected error for chunk without audio")
	}
}

func TestTranscribeContextCancelled(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Transcribe(ctx, testChunk())
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
}

package gemini_provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samer-khoury/mizan/config"
	"github.com/samer-khoury/mizan/models"
)

func testClient(serverURL string) *Client {
	return NewClient(config.GeminiConfig{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		ChatModel:  "chat-model",
		BriefModel: "brief-model",
		TTSModel:   "tts-model",
		Timeout:    5 * time.Second,
	})
}

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"candidates":[{"content":{"parts":[{"text":%q}]}}]}`+"\n\n", text)
}

func TestParseSuggestionLine(t *testing.T) {
	cases := []struct {
		line string
		want []string
		ok   bool
	}{
		{"[suggestions]: What can I claim? | How long do I have?", []string{"What can I claim?", "How long do I have?"}, true},
		{"  [suggestions]: one  ", []string{"one"}, true},
		{"[suggestions]:", nil, true},
		{"The deposit must be returned.", nil, false},
		{"", nil, false},
	}
	for _, tc := range cases {
		got, ok := ParseSuggestionLine(tc.line)
		if ok != tc.ok {
			t.Fatalf("ParseSuggestionLine(%q) ok = %v", tc.line, ok)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("ParseSuggestionLine(%q) = %v, want %v", tc.line, got, tc.want)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("ParseSuggestionLine(%q) = %v, want %v", tc.line, got, tc.want)
			}
		}
	}
}

func TestGenerateTextStreamsChunksAndHoldsMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("The deposit must be returned.\n"))
		fmt.Fprint(w, sseChunk("See Article 20.\n"))
		fmt.Fprint(w, sseChunk("[suggestions]: What can I claim? | Next steps"))
	}))
	defer srv.Close()

	var chunks []string
	var suggested []string
	err := testClient(srv.URL).GenerateText(context.Background(), TextRequest{Prompt: "deposit"}, StreamCallbacks{
		OnChunk: func(text string) error {
			chunks = append(chunks, text)
			return nil
		},
		OnComplete: func(s []string) error {
			suggested = s
			return nil
		},
	})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	var all string
	for _, ch := range chunks {
		all += ch
	}
	if all != "The deposit must be returned.\nSee Article 20.\n" {
		t.Fatalf("chunked text = %q", all)
	}
	if len(suggested) != 2 || suggested[0] != "What can I claim?" {
		t.Fatalf("suggested = %v", suggested)
	}
}

func TestGenerateTextTrailingTextWithoutMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("First line.\nFinal words"))
	}))
	defer srv.Close()

	var all string
	err := testClient(srv.URL).GenerateText(context.Background(), TextRequest{Prompt: "q"}, StreamCallbacks{
		OnChunk: func(text string) error {
			all += text
			return nil
		},
	})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if all != "First line.\nFinal words" {
		t.Fatalf("text = %q, held tail must be flushed at stream end", all)
	}
}

func TestGenerateTextDeliversSourcesOnce(t *testing.T) {
	grounded := `data: {"candidates":[{"content":{"parts":[{"text":"cited\n"}]},"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://example.com/law","title":"Law"}}]}}]}` + "\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, grounded)
		fmt.Fprint(w, grounded)
	}))
	defer srv.Close()

	var sourceEvents int
	var sources []models.Source
	err := testClient(srv.URL).GenerateText(context.Background(), TextRequest{Prompt: "q", Grounded: true}, StreamCallbacks{
		OnChunk: func(string) error { return nil },
		OnSources: func(s []models.Source) error {
			sourceEvents++
			sources = s
			return nil
		},
	})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	if sourceEvents != 1 {
		t.Fatalf("sources delivered %d times", sourceEvents)
	}
	if len(sources) != 1 || sources[0].URI != "https://example.com/law" || sources[0].Title != "Law" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestGenerateTextStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("partial\n"))
		fmt.Fprint(w, `data: {"error":{"code":429,"message":"quota exhausted"}}`+"\n\n")
	}))
	defer srv.Close()

	var completed bool
	err := testClient(srv.URL).GenerateText(context.Background(), TextRequest{Prompt: "q"}, StreamCallbacks{
		OnChunk:    func(string) error { return nil },
		OnComplete: func([]string) error { completed = true; return nil },
	})
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if completed {
		t.Fatal("OnComplete fired on a failed stream")
	}
}

func TestGenerateTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	err := testClient(srv.URL).GenerateText(context.Background(), TextRequest{Prompt: "q"}, StreamCallbacks{})
	if !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerateOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"short answer"}]}}]}`)
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).GenerateOnce(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("GenerateOnce: %v", err)
	}
	if got != "short answer" {
		t.Fatalf("text = %q", got)
	}
}

func TestGenerateResearchBrief(t *testing.T) {
	brief := `{"issue":"Deposit retention","forum":"onshore","points":[{"label":"Verified","proposition":"Deposit must be returned","cite":"Art 20"}],"last_verified_on":"2026-08-01"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, brief)
	}))
	defer srv.Close()

	bundle, err := testClient(srv.URL).GenerateResearchBrief(context.Background(), "deposit")
	if err != nil {
		t.Fatalf("GenerateResearchBrief: %v", err)
	}
	if bundle.Issue != "Deposit retention" || len(bundle.Points) != 1 {
		t.Fatalf("bundle = %+v", bundle)
	}
	if bundle.Points[0].Label != "Verified" {
		t.Fatalf("point = %+v", bundle.Points[0])
	}
}

func TestGenerateResearchBriefUnparseable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"not json at all"}]}}]}`)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).GenerateResearchBrief(context.Background(), "deposit"); !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerateResearchBriefMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"{\"issue\":\"\",\"points\":[]}"}]}}]}`)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).GenerateResearchBrief(context.Background(), "deposit"); !errors.Is(err, models.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestSynthesizeSpeech(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0x00, 0x40}
	encoded := base64.StdEncoding.EncodeToString(pcm)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":%q}}]}}]}`, encoded)
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).SynthesizeSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if len(got) != len(pcm) {
		t.Fatalf("payload = %v", got)
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Fatalf("payload = %v, want %v", got, pcm)
		}
	}
}

func TestSynthesizeSpeechNoAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"no audio here"}]}}]}`)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).SynthesizeSpeech(context.Background(), "hello"); !errors.Is(err, models.ErrSynthesis) {
		t.Fatalf("err = %v, want ErrSynthesis", err)
	}
}

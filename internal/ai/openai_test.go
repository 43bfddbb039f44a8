package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/reciperank/internal/analysis"
)

func completionServer(t *testing.T, content string, status int, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s, want .../chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if gotBody != nil {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, gotBody)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testInput = analysis.Input{
	RecipeURL: "https://example.com/banana-bread",
	Host:      "example.com",
	Keyword:   "banana bread",
	Title:     "Banana Bread",
}

func TestGenerate(t *testing.T) {
	content := `{"optimizedTitle":"Easy Banana Bread","optimizedDescription":"Moist and simple.","seoScore":91,"targetKeywords":["banana bread"],"suggestedKeywords":["easy banana bread"],"optimizationSuggestions":["Add photos"],"schemaMarkup":"{\"@type\":\"Recipe\",\"name\":\"Banana Bread\"}"}`
	var body map[string]any
	srv := completionServer(t, content, http.StatusOK, &body)

	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	p, err := c.Generate(context.Background(), testInput)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if p.OptimizedTitle != "Easy Banana Bread" || p.SEOScore != 91 {
		t.Errorf("payload = %+v", p)
	}

	if body["model"] != DefaultModel {
		t.Errorf("model = %v, want %s", body["model"], DefaultModel)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if prompt, _ := user["content"].(string); !strings.Contains(prompt, "Target Keyword: banana bread") {
		t.Errorf("prompt missing keyword:\n%s", prompt)
	}
}

func TestGenerateMalformed(t *testing.T) {
	srv := completionServer(t, "Sorry, I can't do that.", http.StatusOK, nil)
	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})

	if _, err := c.Generate(context.Background(), testInput); err == nil {
		t.Error("expected parse error")
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError, nil)
	c := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})

	if _, err := c.Generate(context.Background(), testInput); err == nil {
		t.Error("expected upstream error")
	}
}

func TestResource(t *testing.T) {
	c := NewClient(Config{APIKey: "k", Model: "gpt-4o"})
	if got := c.Resource(); got != "openai:gpt-4o" {
		t.Errorf("Resource = %q", got)
	}
}

func TestRenderPromptWithoutDescription(t *testing.T) {
	prompt, err := renderPrompt(testInput)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "Current Description: Not provided") {
		t.Errorf("prompt:\n%s", prompt)
	}
}

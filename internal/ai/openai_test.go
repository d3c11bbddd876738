package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements http.RoundTripper for testing
type MockTransport struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	requests  []*http.Request
	bodies    []string
}

type mockResponse struct {
	status int
	body   string
}

func NewMockTransport() *MockTransport {
	return &MockTransport{responses: make(map[string]mockResponse)}
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	key := fmt.Sprintf("%s %s", req.Method, req.URL.String())
	r, ok := m.responses[key]
	if !ok {
		r = mockResponse{status: 500, body: `{"error": {"message": "Mock not configured"}}`}
	}
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Header:     make(http.Header),
	}, nil
}

func (m *MockTransport) AddResponse(method, url string, statusCode int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[fmt.Sprintf("%s %s", method, url)] = mockResponse{status: statusCode, body: body}
}

func (m *MockTransport) Requests() ([]*http.Request, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...), append([]string(nil), m.bodies...)
}

func newMockedOpenAI(transport *MockTransport, apiKey string) *OpenAIClient {
	client := NewOpenAIClient(&ClientConfig{
		APIKey:     apiKey,
		BaseURL:    "https://llm.example.test/v1/",
		EmbedModel: "text-embedding-3-small",
		ChatModel:  "gpt-4o-mini",
		Dim:        4,
		ProjectID:  "test-project",
	})
	client.http = &http.Client{Transport: transport, Timeout: 5 * time.Second}
	return client
}

func TestNewOpenAIClient(t *testing.T) {
	tests := []struct {
		name      string
		config    *ClientConfig
		wantEmbed string
		wantChat  string
		wantDim   int
		wantBase  string
	}{
		{
			name:      "defaults",
			config:    &ClientConfig{APIKey: "k"},
			wantEmbed: "text-embedding-3-small",
			wantChat:  "gpt-4o-mini",
			wantDim:   1536,
			wantBase:  "https://api.openai.com/v1",
		},
		{
			name:      "large model dimension",
			config:    &ClientConfig{APIKey: "k", EmbedModel: "text-embedding-3-large"},
			wantEmbed: "text-embedding-3-large",
			wantChat:  "gpt-4o-mini",
			wantDim:   3072,
			wantBase:  "https://api.openai.com/v1",
		},
		{
			name:      "compatible endpoint",
			config:    &ClientConfig{APIKey: "k", BaseURL: "https://api.minimax.io/v1/", ChatModel: "MiniMax-M2.5", Dim: 1024},
			wantEmbed: "text-embedding-3-small",
			wantChat:  "MiniMax-M2.5",
			wantDim:   1024,
			wantBase:  "https://api.minimax.io/v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewOpenAIClient(tt.config)
			if c.config.EmbedModel != tt.wantEmbed {
				t.Errorf("EmbedModel = %q, want %q", c.config.EmbedModel, tt.wantEmbed)
			}
			if c.config.ChatModel != tt.wantChat {
				t.Errorf("ChatModel = %q, want %q", c.config.ChatModel, tt.wantChat)
			}
			if c.Dim() != tt.wantDim {
				t.Errorf("Dim() = %d, want %d", c.Dim(), tt.wantDim)
			}
			if c.config.BaseURL != tt.wantBase {
				t.Errorf("BaseURL = %q, want %q", c.config.BaseURL, tt.wantBase)
			}
			if c.http.Timeout != 30*time.Second {
				t.Errorf("timeout = %v, want 30s", c.http.Timeout)
			}
		})
	}
}

func TestOpenAIClient_EmbedBatch(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		status     int
		body       string
		wantErr    string
		wantNoEmb  bool
		wantFirst  float32
		wantSecond float32
	}{
		{
			name:    "missing API key",
			apiKey:  "",
			wantErr: "ACTASEARCH_API_KEY unset",
		},
		{
			name:   "results reordered by index",
			apiKey: "test-key",
			status: 200,
			body: `{"data": [
				{"index": 1, "embedding": [0.2, 0, 0, 0]},
				{"index": 0, "embedding": [0.1, 0, 0, 0]}
			]}`,
			wantFirst:  0.1,
			wantSecond: 0.2,
		},
		{
			name:    "provider error message",
			apiKey:  "test-key",
			status:  429,
			body:    `{"error": {"message": "Rate limit exceeded"}}`,
			wantErr: "Rate limit exceeded",
		},
		{
			name:    "status without message",
			apiKey:  "test-key",
			status:  502,
			body:    `bad gateway`,
			wantErr: "502",
		},
		{
			name:      "short data array",
			apiKey:    "test-key",
			status:    200,
			body:      `{"data": [{"index": 0, "embedding": [0.1]}]}`,
			wantNoEmb: true,
		},
		{
			name:    "invalid JSON",
			apiKey:  "test-key",
			status:  200,
			body:    `invalid json`,
			wantErr: "openai embeddings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			if tt.status != 0 {
				transport.AddResponse("POST", "https://llm.example.test/v1/embeddings", tt.status, tt.body)
			}
			c := newMockedOpenAI(transport, tt.apiKey)

			vecs, err := c.EmbedBatch(context.Background(), []string{"uno", "dos"})

			switch {
			case tt.wantNoEmb:
				if !errors.Is(err, ErrNoEmbedding) {
					t.Fatalf("expected ErrNoEmbedding, got %v", err)
				}
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if vecs[0][0] != tt.wantFirst || vecs[1][0] != tt.wantSecond {
					t.Errorf("vectors out of order: %v", vecs)
				}
			}
			if err != nil && vecs != nil {
				t.Errorf("expected nil vectors on error, got %v", vecs)
			}

			if tt.apiKey == "" {
				return
			}
			reqs, bodies := transport.Requests()
			if len(reqs) != 1 {
				t.Fatalf("expected 1 request, got %d", len(reqs))
			}
			if got := reqs[0].Header.Get("Authorization"); got != "Bearer "+tt.apiKey {
				t.Errorf("Authorization = %q", got)
			}
			var payload struct {
				Input []string `json:"input"`
				Model string   `json:"model"`
			}
			if err := json.Unmarshal([]byte(bodies[0]), &payload); err != nil {
				t.Fatalf("request body: %v", err)
			}
			if len(payload.Input) != 2 || payload.Model != "text-embedding-3-small" {
				t.Errorf("unexpected payload %+v", payload)
			}
		})
	}
}

func TestOpenAIClient_EmbedEmptyBatch(t *testing.T) {
	transport := NewMockTransport()
	c := newMockedOpenAI(transport, "test-key")

	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Fatalf("expected empty result, got %v, %v", vecs, err)
	}
	if reqs, _ := transport.Requests(); len(reqs) != 0 {
		t.Errorf("expected no request, got %d", len(reqs))
	}
}

func TestOpenAIClient_Generate(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", "https://llm.example.test/v1/chat/completions", 200,
		`{"choices": [{"message": {"content": "  Se sustituyó la válvula.  "}}]}`)
	c := newMockedOpenAI(transport, "sk-proj-abc")

	got, err := c.Generate(context.Background(), GenerateRequest{
		System:      "Eres un asistente.",
		Messages:    []Message{{Role: RoleUser, Content: "¿Qué pasó?"}},
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Se sustituyó la válvula." {
		t.Errorf("Generate() = %q", got)
	}

	reqs, bodies := transport.Requests()
	if reqs[0].Header.Get("OpenAI-Project") != "test-project" {
		t.Error("expected OpenAI-Project header for project keys")
	}
	var payload struct {
		Model     string    `json:"model"`
		Messages  []Message `json:"messages"`
		MaxTokens int       `json:"max_tokens"`
	}
	if err := json.Unmarshal([]byte(bodies[0]), &payload); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != RoleSystem {
		t.Errorf("system prompt not sent first: %+v", payload.Messages)
	}
	if payload.MaxTokens != 200 || payload.Model != "gpt-4o-mini" {
		t.Errorf("unexpected payload %+v", payload)
	}
}

func TestOpenAIClient_GenerateNoChoices(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse("POST", "https://llm.example.test/v1/chat/completions", 200, `{"choices": []}`)
	c := newMockedOpenAI(transport, "test-key")

	if _, err := c.Generate(context.Background(), GenerateRequest{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestOpenAIClient_CancelledContext(t *testing.T) {
	transport := NewMockTransport()
	c := newMockedOpenAI(transport, "test-key")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Embed(ctx, "texto"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestOpenAIClient_InterfaceCompliance(t *testing.T) {
	var _ Client = (*OpenAIClient)(nil)
}

package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for tests.
type mockChatService struct {
	response  openai.ChatCompletion
	err       error
	gotParams openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.gotParams = params
	if m.err != nil {
		return openai.ChatCompletion{}, m.err
	}
	return m.response, nil
}

func TestGenerateSuccess(t *testing.T) {
	mock := &mockChatService{
		response: openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "Good morning! Ready for a gentle walk?"}},
			},
		},
	}
	client := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	out, err := client.Generate(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "Good morning! Ready for a gentle walk?" {
		t.Errorf("output = %q", out)
	}
	if mock.gotParams.Model != openai.ChatModelGPT4oMini {
		t.Errorf("model = %v", mock.gotParams.Model)
	}
	if len(mock.gotParams.Messages) != 2 {
		t.Errorf("messages = %d, want system + user", len(mock.gotParams.Messages))
	}
}

func TestGenerateServiceError(t *testing.T) {
	mock := &mockChatService{err: errors.New("rate limited")}
	client := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	if _, err := client.Generate(context.Background(), "s", "u"); err == nil {
		t.Error("expected error from failing service")
	}
}

func TestGenerateNoChoices(t *testing.T) {
	mock := &mockChatService{response: openai.ChatCompletion{}}
	client := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	_, err := client.Generate(context.Background(), "s", "u")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("err = %v, want ErrNoChoicesReturned", err)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}

	client, err := NewClient(WithAPIKey("sk-test"), WithModel(openai.ChatModelGPT4o))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.model != openai.ChatModelGPT4o {
		t.Errorf("model = %v", client.model)
	}
}

package genai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type mockChatService struct {
	lastParams openai.ChatCompletionNewParams
	reply      string
	err        error
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastParams = params
	if m.err != nil {
		return nil, m.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: m.reply}},
		},
	}, nil
}

func TestGenerateReturnsContent(t *testing.T) {
	mock := &mockChatService{reply: `{"type":"answer","content":"x"}`}
	c := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	out, err := c.Generate(context.Background(), "some prompt")
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if out != `{"type":"answer","content":"x"}` {
		t.Errorf("unexpected output: %q", out)
	}
	if len(mock.lastParams.Messages) != 1 {
		t.Errorf("expected a single user message, got %d", len(mock.lastParams.Messages))
	}
}

func TestGeneratePropagatesErrors(t *testing.T) {
	mock := &mockChatService{err: errors.New("upstream down")}
	c := &Client{chat: mock, model: openai.ChatModelGPT4oMini}

	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Errorf("expected error from failing chat service")
	}
}

type emptyChatService struct{}

func (emptyChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}

func TestGenerateEmptyChoices(t *testing.T) {
	c := &Client{chat: emptyChatService{}, model: openai.ChatModelGPT4oMini}
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Errorf("expected error for empty choices")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Errorf("expected error when API key is missing")
	}
}

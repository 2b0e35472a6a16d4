package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/genai"
)

type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	return m.resp, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func choice(content, stop string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, StopReason: stop}}}
}

func TestLangChainBuildsMultimodalMessage(t *testing.T) {
	m := &fakeModel{resp: choice("  {\"ok\":true}\n", "stop")}
	svc := NewLangChain(m, "fake", "fake-1", nil)

	resp, err := svc.Generate(context.Background(), Request{
		System:    "be terse",
		Images:    [][]byte{[]byte("a"), []byte("b")},
		Prompt:    "describe",
		MaxTokens: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.False(t, resp.Truncated)
	assert.Equal(t, 1024, m.opts.MaxTokens)

	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	user := m.messages[1]
	assert.Equal(t, llms.ChatMessageTypeHuman, user.Role)
	require.Len(t, user.Parts, 3)
	img, ok := user.Parts[0].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, llms.TextPart("describe"), user.Parts[2])
}

func TestLangChainDetectsTruncation(t *testing.T) {
	for _, reason := range []string{"length", "max_tokens"} {
		svc := NewLangChain(&fakeModel{resp: choice(`{"overallScore": 4`, reason)}, "fake", "", nil)
		resp, err := svc.Generate(context.Background(), Request{Prompt: "x"})
		require.NoError(t, err)
		assert.True(t, resp.Truncated, reason)
	}
}

func TestLangChainErrors(t *testing.T) {
	svc := NewLangChain(&fakeModel{err: errors.New("rate limited")}, "fake", "", nil)
	_, err := svc.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "rate limited")

	svc = NewLangChain(&fakeModel{resp: &llms.ContentResponse{}}, "fake", "", nil)
	_, err = svc.Generate(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestFromGemini(t *testing.T) {
	_, err := fromGemini(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	resp, err := fromGemini(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText("partial", genai.RoleModel),
			FinishReason: genai.FinishReasonMaxTokens,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Text)
	assert.True(t, resp.Truncated)
}

func TestServiceFunc(t *testing.T) {
	var svc Service = ServiceFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{Text: req.Prompt}, nil
	})
	resp, err := svc.Generate(context.Background(), Request{Prompt: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.Text)
}

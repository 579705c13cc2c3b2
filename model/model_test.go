package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModelCannedResponse(t *testing.T) {
	m := NewMockModel("mock", "mock")
	m.AddResponse("hello", "hi there")

	resp, err := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1, m.Calls())
}

func TestMockModelDefaultEcho(t *testing.T) {
	m := NewMockModel("mock", "mock")

	resp, err := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "unseen"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: unseen", resp.Text)
}

func TestMockModelFailTimesRecovers(t *testing.T) {
	m := NewMockModel("mock", "mock")
	boom := errors.New("boom")
	m.FailTimes(1, boom)

	_, err := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	assert.ErrorIs(t, err, boom)

	resp, err := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
}

func TestMockModelContextCancelled(t *testing.T) {
	m := NewMockModel("mock", "mock")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, Request{Messages: []Message{{Role: "user", Content: "q"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequestLastUserText(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "second"},
	}}
	assert.Equal(t, "second", req.LastUserText())
	assert.Empty(t, Request{}.LastUserText())
}

func TestRegistryResolve(t *testing.T) {
	openai := NewMockModel("openai", "mock")
	claude := NewMockModel("anthropic", "mock")
	reg, err := NewRegistry("openai", map[string]Model{
		"openai":    openai,
		"anthropic": claude,
	})
	require.NoError(t, err)

	m, name := reg.Resolve("anthropic")
	assert.Equal(t, claude, m)
	assert.Equal(t, "anthropic", name)

	m, name = reg.Resolve("")
	assert.Equal(t, openai, m)
	assert.Equal(t, "openai", name)

	m, name = reg.Resolve("no-such-model")
	assert.Equal(t, openai, m)
	assert.Equal(t, "openai", name)

	assert.Equal(t, []string{"anthropic", "openai"}, reg.Names())
}

func TestRegistryRejectsBadDefault(t *testing.T) {
	_, err := NewRegistry("missing", map[string]Model{"openai": NewMockModel("openai", "mock")})
	assert.Error(t, err)

	_, err = NewRegistry("openai", nil)
	assert.Error(t, err)
}

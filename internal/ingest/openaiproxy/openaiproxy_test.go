package openaiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdk "github.com/sashabaranov/go-openai"

	"github.com/agentd-run/agentd/internal/bus"
	"github.com/agentd-run/agentd/internal/types"
)

func TestLastUserContent(t *testing.T) {
	msgs := []sdk.ChatCompletionMessage{
		{Role: sdk.ChatMessageRoleSystem, Content: "be nice"},
		{Role: sdk.ChatMessageRoleUser, Content: "first"},
		{Role: sdk.ChatMessageRoleAssistant, Content: "reply"},
		{Role: sdk.ChatMessageRoleUser, Content: "second"},
	}
	require.Equal(t, "second", lastUserContent(msgs))
	require.Equal(t, "", lastUserContent(nil))
}

func TestHandleCompletionsRoundTrip(t *testing.T) {
	b := bus.New(4)
	p := New(Config{ModelAlias: "default"}, b.NewSender(), nil)

	body, err := json.Marshal(sdk.ChatCompletionRequest{
		Model: "agentd-default",
		Messages: []sdk.ChatCompletionMessage{
			{Role: sdk.ChatMessageRoleUser, Content: "what's up"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		p.handleCompletions(rec, req)
		close(done)
	}()

	var evt types.IngressEvent
	select {
	case evt = <-b.Receive():
	case <-time.After(time.Second):
		t.Fatal("expected event on bus")
	}
	require.Equal(t, "what's up", evt.Payload)
	require.Equal(t, types.OwnerCommand, evt.Trust)
	require.True(t, strings.HasPrefix(evt.Source, Channel+":"))

	require.NoError(t, p.Deliver(context.Background(), evt.Source, "not much"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not complete")
	}

	var resp sdk.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "not much", resp.Choices[0].Message.Content)
}

func TestHandleCompletionsRejectsEmptyUserMessage(t *testing.T) {
	p := New(Config{}, bus.New(1).NewSender(), nil)

	body, err := json.Marshal(sdk.ChatCompletionRequest{
		Messages: []sdk.ChatCompletionMessage{
			{Role: sdk.ChatMessageRoleSystem, Content: "be nice"},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	p.handleCompletions(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliverToUnknownRequestErrors(t *testing.T) {
	p := New(Config{}, bus.New(1).NewSender(), nil)
	err := p.Deliver(context.Background(), Channel+":does-not-exist", "x")
	require.Error(t, err)
}

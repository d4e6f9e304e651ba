package server

import (
	"context"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heungtae/codex-chat-bridge/internal/config"
)

func newOpenAISDKClient(baseURL string) openai.Client {
	return openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey("test-key"),
	)
}

func TestOpenAIGoSDKSmokeResponsesOverChatUpstream(t *testing.T) {
	up := newFakeUpstream(t, config.WireChat)
	b := newTestBridge(t, config.Overrides{UpstreamURL: strp(up.URL)}, nil)
	client := newOpenAISDKClient(b.http.URL + "/v1")

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel("gpt-test"),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String("hello from sdk")},
	}

	out, err := client.Responses.New(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "Hello", out.OutputText())
	assert.True(t, strings.HasPrefix(out.ID, "resp_bridge_"))

	stream := client.Responses.NewStreaming(context.Background(), params)
	var (
		types     []string
		completed string
	)
	for stream.Next() {
		evt := stream.Current()
		types = append(types, evt.Type)
		if evt.Type == "response.completed" {
			completed = evt.Response.OutputText()
		}
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{
		"response.created",
		"response.output_item.added",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_item.done",
		"response.completed",
	}, types)
	assert.Equal(t, "Hello", completed)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestOpenAIGoSDKSmokeChatOverResponsesUpstream(t *testing.T) {
	up := newFakeUpstream(t, config.WireResponses)
	b := newTestBridge(t, config.Overrides{
		UpstreamWire: strp("responses"),
		UpstreamURL:  strp(up.URL),
	}, nil)
	client := newOpenAISDKClient(b.http.URL + "/v1")

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel("gpt-test"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello from sdk"),
		},
	}

	out, err := client.Chat.Completions.New(context.Background(), params)
	require.NoError(t, err)
	require.NotEmpty(t, out.Choices)
	assert.Equal(t, "Hello", out.Choices[0].Message.Content)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, int64(5), out.Usage.TotalTokens)

	stream := client.Chat.Completions.NewStreaming(context.Background(), params)
	var text strings.Builder
	var finish string
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			text.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "Hello", text.String())
	assert.Equal(t, "stop", finish)
}

func TestOpenAIGoSDKSmokeSameWirePassthrough(t *testing.T) {
	up := newFakeUpstream(t, config.WireChat)
	b := newTestBridge(t, config.Overrides{UpstreamURL: strp(up.URL)}, nil)
	client := newOpenAISDKClient(b.http.URL + "/v1")

	out, err := client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model: shared.ChatModel("gpt-test"),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("hello"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", out.ID)
	assert.Equal(t, "Hello", out.Choices[0].Message.Content)
}

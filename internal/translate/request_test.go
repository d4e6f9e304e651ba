package translate

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/config"
)

func testConfig(t *testing.T, wire config.Wire, streamOnly bool, drop ...string) *config.Configuration {
	t.Helper()
	w := string(wire)
	cfg, err := config.Overrides{
		UpstreamWire:       &w,
		UpstreamStreamOnly: &streamOnly,
		DropToolTypes:      drop,
	}.Resolve()
	require.NoError(t, err)
	return cfg
}

func TestBuildRejectsInvalidJSON(t *testing.T) {
	cfg := testConfig(t, config.WireChat, false)

	for _, body := range []string{`{"model":`, `[1,2]`, `"text"`} {
		_, err := Build([]byte(body), config.WireResponses, cfg, true)
		var terr *RequestTranslationError
		require.True(t, errors.As(err, &terr), "body %s: expected RequestTranslationError, got %v", body, err)
	}
}

func TestBuildStreamDefaults(t *testing.T) {
	chatCfg := testConfig(t, config.WireChat, false)

	tests := []struct {
		name          string
		body          string
		inbound       config.Wire
		acceptsStream bool
		want          bool
	}{
		{"responses accepts sse", `{"model":"m","input":"hi"}`, config.WireResponses, true, true},
		{"responses plain json", `{"model":"m","input":"hi"}`, config.WireResponses, false, false},
		{"responses explicit false", `{"model":"m","input":"hi","stream":false}`, config.WireResponses, true, false},
		{"chat default", `{"model":"m","messages":[]}`, config.WireChat, true, false},
		{"chat explicit true", `{"model":"m","messages":[],"stream":true}`, config.WireChat, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Build([]byte(tt.body), tt.inbound, chatCfg, tt.acceptsStream)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Stream)
			assert.Equal(t, tt.want, req.UpstreamStream)
			assert.Equal(t, tt.want, gjson.GetBytes(req.Body, "stream").Bool())
		})
	}
}

func TestBuildUpstreamStreamOnlyForcesStreaming(t *testing.T) {
	cfg := testConfig(t, config.WireChat, true)

	req, err := Build([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`), config.WireChat, cfg, false)
	require.NoError(t, err)
	assert.False(t, req.Stream)
	assert.True(t, req.UpstreamStream)
	assert.True(t, gjson.GetBytes(req.Body, "stream").Bool())
	assert.True(t, gjson.GetBytes(req.Body, "stream_options.include_usage").Bool())
}

func TestBuildSameWireKeepsUnknownFields(t *testing.T) {
	cfg := testConfig(t, config.WireResponses, false)

	body := `{"model":"m","input":"hi","reasoning":{"effort":"high"},"store":false}`
	req, err := Build([]byte(body), config.WireResponses, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, "high", gjson.GetBytes(req.Body, "reasoning.effort").String())
	assert.True(t, gjson.GetBytes(req.Body, "store").Exists())
	assert.Equal(t, "m", req.Model)
}

func TestDropToolsRemovesToolAndChoice(t *testing.T) {
	body := `{"tools":[{"type":"web_search"},{"type":"function","name":"f"}],"tool_choice":{"type":"web_search"}}`

	out, err := DropTools([]byte(body), []string{"web_search"})
	require.NoError(t, err)

	tools := gjson.GetBytes(out, "tools").Array()
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].Get("type").String())
	assert.False(t, gjson.GetBytes(out, "tool_choice").Exists())
}

func TestDropToolsEmptiedListClearsToolChoice(t *testing.T) {
	body := `{"tools":[{"type":"web_search"}],"tool_choice":"auto","model":"m"}`

	out, err := DropTools([]byte(body), []string{"web_search"})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(out, "tools").Exists())
	assert.False(t, gjson.GetBytes(out, "tool_choice").Exists())
	assert.Equal(t, "m", gjson.GetBytes(out, "model").String())
}

func TestDropToolsNoMatchLeavesBodyUntouched(t *testing.T) {
	body := `{"tools":[{"type":"function","name":"f"}],"tool_choice":"required"}`

	out, err := DropTools([]byte(body), []string{"web_search"})
	require.NoError(t, err)
	assert.JSONEq(t, body, string(out))
}

func TestDropToolsRejectsNonArray(t *testing.T) {
	_, err := DropTools([]byte(`{"tools":{"type":"x"}}`), nil)
	var terr *RequestTranslationError
	require.ErrorAs(t, err, &terr)
}

func TestBuildDropsToolsAcrossWires(t *testing.T) {
	cfg := testConfig(t, config.WireChat, false, "web_search_preview")

	body := `{"model":"m","input":"hi","tools":[{"type":"web_search_preview"}],"tool_choice":{"type":"web_search_preview"}}`
	req, err := Build([]byte(body), config.WireResponses, cfg, false)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(req.Body, "tools").Exists())
	assert.False(t, gjson.GetBytes(req.Body, "tool_choice").Exists())
	assert.False(t, gjson.GetBytes(req.Body, "parallel_tool_calls").Exists())
}

func TestResponsesToChatMessages(t *testing.T) {
	body := `{
		"model": "gpt-test",
		"instructions": "be brief",
		"input": [
			{"type":"message","role":"developer","content":[{"type":"input_text","text":"dev note"}]},
			{"type":"message","role":"user","content":[{"type":"input_text","text":"line1"},{"type":"input_image","image_url":"x"},{"type":"input_text","text":"line2"}]},
			{"type":"reasoning","summary":[]},
			{"type":"function_call","call_id":"call_1","name":"lookup","arguments":"{\"q\":1}"},
			{"type":"function_call","call_id":"call_2","name":"fetch","arguments":{"u":"x"}},
			{"type":"function_call_output","call_id":"call_1","output":"r1"},
			{"type":"function_call_output","call_id":"call_2","output":[{"type":"output_text","text":"a"},{"type":"output_text","text":"b"}]},
			{"type":"mcp_tool_call_output","call_id":"call_3","result":{"ok":true}}
		],
		"max_output_tokens": 64,
		"temperature": 0.2
	}`

	out, err := ResponsesToChat([]byte(body), false)
	require.NoError(t, err)

	var got struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role       string `json:"role"`
			Content    string `json:"content"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"messages"`
		MaxTokens   int     `json:"max_tokens"`
		Temperature float64 `json:"temperature"`
	}
	require.NoError(t, json.Unmarshal(out, &got))

	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
	assert.False(t, gjson.GetBytes(out, "stream_options").Exists())

	require.Len(t, got.Messages, 7)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "system", got.Messages[1].Role)
	assert.Equal(t, "dev note", got.Messages[1].Content)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "line1\nline2", got.Messages[2].Content)

	assistant := got.Messages[3]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "function", assistant.ToolCalls[0].Type)
	assert.Equal(t, `{"q":1}`, assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, `{"u":"x"}`, assistant.ToolCalls[1].Function.Arguments)

	assert.Equal(t, "tool", got.Messages[4].Role)
	assert.Equal(t, "call_1", got.Messages[4].ToolCallID)
	assert.Equal(t, "r1", got.Messages[4].Content)
	assert.Equal(t, "a\nb", got.Messages[5].Content)
	assert.Equal(t, "call_3", got.Messages[6].ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, got.Messages[6].Content)
}

func TestResponsesToChatStringInputAndStreaming(t *testing.T) {
	out, err := ResponsesToChat([]byte(`{"model":"m","input":"hello"}`), true)
	require.NoError(t, err)

	assert.True(t, gjson.GetBytes(out, "stream").Bool())
	assert.True(t, gjson.GetBytes(out, "stream_options.include_usage").Bool())
	assert.Equal(t, "user", gjson.GetBytes(out, "messages.0.role").String())
	assert.Equal(t, "hello", gjson.GetBytes(out, "messages.0.content").String())
}

func TestResponsesToChatMissingFields(t *testing.T) {
	tests := map[string]string{
		"model":        `{"input":"hi"}`,
		"input":        `{"model":"m"}`,
		"input type":   `{"model":"m","input":42}`,
		"output no id": `{"model":"m","input":[{"type":"function_call_output","output":"x"}]}`,
		"non-object":   `{"model":"m","input":[7]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ResponsesToChat([]byte(body), false)
			var terr *RequestTranslationError
			require.ErrorAs(t, err, &terr)
		})
	}
}

func TestResponsesToChatFunctionCallWithoutCallID(t *testing.T) {
	body := `{"model":"m","input":[{"type":"function_call","name":"f","arguments":"{}"},{"type":"function_call","arguments":"{}"}]}`

	out, err := ResponsesToChat([]byte(body), false)
	require.NoError(t, err)

	calls := gjson.GetBytes(out, "messages.0.tool_calls").Array()
	require.Len(t, calls, 1, "nameless call should be skipped")
	assert.Regexp(t, `^call_[0-9a-f-]{36}$`, calls[0].Get("id").String())
}

func TestResponsesToChatTools(t *testing.T) {
	body := `{
		"model":"m","input":"hi",
		"tools":[
			{"type":"function","name":"get_weather","description":"d","parameters":{"type":"object","properties":{"city":{"type":"string"}}}},
			{"type":"function","name":"no_params"},
			{"type":"function"},
			{"type":"function","function":{"name":"wrapped"}},
			{"type":"web_search"}
		],
		"tool_choice":{"type":"function","name":"get_weather"},
		"parallel_tool_calls":false
	}`

	out, err := ResponsesToChat([]byte(body), false)
	require.NoError(t, err)

	tools := gjson.GetBytes(out, "tools").Array()
	require.Len(t, tools, 4)
	assert.Equal(t, "get_weather", tools[0].Get("function.name").String())
	assert.Equal(t, "d", tools[0].Get("function.description").String())
	assert.Equal(t, "string", tools[0].Get("function.parameters.properties.city.type").String())
	assert.JSONEq(t, `{"type":"object","properties":{}}`, tools[1].Get("function.parameters").Raw)
	assert.Equal(t, "wrapped", tools[2].Get("function.name").String())
	assert.Equal(t, "web_search", tools[3].Get("type").String())

	assert.JSONEq(t, `{"type":"function","function":{"name":"get_weather"}}`, gjson.GetBytes(out, "tool_choice").Raw)
	assert.False(t, gjson.GetBytes(out, "parallel_tool_calls").Bool())
}

func TestResponsesToChatToolChoiceFallsBackToAuto(t *testing.T) {
	body := `{"model":"m","input":"hi","tools":[{"type":"function","name":"f"}],"tool_choice":{"type":"function"}}`

	out, err := ResponsesToChat([]byte(body), false)
	require.NoError(t, err)
	assert.Equal(t, "auto", gjson.GetBytes(out, "tool_choice").String())
	assert.True(t, gjson.GetBytes(out, "parallel_tool_calls").Bool())
}

func TestChatToResponses(t *testing.T) {
	body := `{
		"model":"m",
		"messages":[
			{"role":"system","content":"sys"},
			{"role":"user","content":[{"type":"text","text":"hi"},{"type":"image_url","image_url":{"url":"data:x"}}]},
			{"role":"assistant","content":"calling","tool_calls":[{"id":"call_9","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]},
			{"role":"tool","tool_call_id":"call_9","content":"done"},
			{"role":"system","content":"late"}
		],
		"tools":[{"type":"function","function":{"name":"f","description":"d"}}],
		"tool_choice":{"type":"function","function":{"name":"f"}},
		"max_tokens":10
	}`

	out, err := ChatToResponses([]byte(body), true)
	require.NoError(t, err)

	assert.Equal(t, "sys", gjson.GetBytes(out, "instructions").String())
	assert.True(t, gjson.GetBytes(out, "stream").Bool())
	assert.Equal(t, int64(10), gjson.GetBytes(out, "max_output_tokens").Int())

	input := gjson.GetBytes(out, "input").Array()
	require.Len(t, input, 5)
	assert.Equal(t, "user", input[0].Get("role").String())
	assert.Equal(t, "input_text", input[0].Get("content.0.type").String())
	assert.Equal(t, "input_image", input[0].Get("content.1.type").String())
	assert.Equal(t, "data:x", input[0].Get("content.1.image_url").String())
	assert.Equal(t, "output_text", input[1].Get("content.0.type").String())
	assert.Equal(t, "function_call", input[2].Get("type").String())
	assert.Equal(t, "call_9", input[2].Get("call_id").String())
	assert.Equal(t, `{"a":1}`, input[2].Get("arguments").String())
	assert.Equal(t, "function_call_output", input[3].Get("type").String())
	assert.Equal(t, "done", input[3].Get("output").String())
	assert.Equal(t, "system", input[4].Get("role").String())

	assert.Equal(t, "f", gjson.GetBytes(out, "tools.0.name").String())
	assert.JSONEq(t, `{"type":"object","properties":{}}`, gjson.GetBytes(out, "tools.0.parameters").Raw)
	assert.JSONEq(t, `{"type":"function","name":"f"}`, gjson.GetBytes(out, "tool_choice").Raw)
}

func TestChatToResponsesRequiresFields(t *testing.T) {
	for _, body := range []string{
		`{"messages":[]}`,
		`{"model":"m"}`,
		`{"model":"m","messages":[{"role":"tool","content":"x"}]}`,
	} {
		_, err := ChatToResponses([]byte(body), false)
		var terr *RequestTranslationError
		require.ErrorAs(t, err, &terr, body)
	}
}

func TestResponseToChatCompletion(t *testing.T) {
	body := `{
		"id":"resp_1","object":"response","created_at":1700000000,"model":"up-model","status":"completed",
		"output":[
			{"type":"message","id":"msg_1","role":"assistant","content":[{"type":"output_text","text":"Hel"},{"type":"output_text","text":"lo"}]},
			{"type":"function_call","id":"fc_1","call_id":"call_1","name":"f","arguments":"{}"}
		],
		"usage":{"input_tokens":3,"output_tokens":5,"total_tokens":8}
	}`

	out, err := ResponseToChatCompletion([]byte(body), "fallback")
	require.NoError(t, err)

	assert.Equal(t, "chat.completion", gjson.GetBytes(out, "object").String())
	assert.Equal(t, "up-model", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "Hello", gjson.GetBytes(out, "choices.0.message.content").String())
	assert.Equal(t, "tool_calls", gjson.GetBytes(out, "choices.0.finish_reason").String())
	assert.Equal(t, "call_1", gjson.GetBytes(out, "choices.0.message.tool_calls.0.id").String())
	assert.Equal(t, int64(8), gjson.GetBytes(out, "usage.total_tokens").Int())
}

func TestResponseToChatCompletionUnwrapsCompletedEvent(t *testing.T) {
	body := `{"type":"response.completed","response":{"id":"r","output":[{"type":"message","content":[{"type":"output_text","text":"ok"}]}]}}`

	out, err := ResponseToChatCompletion([]byte(body), "m")
	require.NoError(t, err)
	assert.Equal(t, "m", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "ok", gjson.GetBytes(out, "choices.0.message.content").String())
	assert.Equal(t, "stop", gjson.GetBytes(out, "choices.0.finish_reason").String())
	assert.False(t, gjson.GetBytes(out, "usage").Exists())
}

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/metrics"
	"github.com/heungtae/codex-chat-bridge/internal/profile"
	"github.com/heungtae/codex-chat-bridge/internal/upstream"
)

const chatStreamBody = "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: [DONE]\n\n"

const chatCompletionBody = `{"id":"c1","object":"chat.completion","created":1,"model":"m",` +
	`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],` +
	`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`

const responsesStreamBody = "event: response.created\ndata: {\"type\":\"response.created\",\"sequence_number\":0,\"response\":{\"id\":\"resp_up\",\"object\":\"response\",\"created_at\":7,\"status\":\"in_progress\",\"output\":[]}}\n\n" +
	"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"sequence_number\":1,\"item_id\":\"msg_1\",\"output_index\":0,\"content_index\":0,\"delta\":\"Hel\"}\n\n" +
	"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"sequence_number\":2,\"item_id\":\"msg_1\",\"output_index\":0,\"content_index\":0,\"delta\":\"lo\"}\n\n" +
	"event: response.completed\ndata: {\"type\":\"response.completed\",\"sequence_number\":3,\"response\":{\"id\":\"resp_up\",\"object\":\"response\",\"created_at\":7,\"status\":\"completed\",\"output\":[{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"status\":\"completed\",\"content\":[{\"type\":\"output_text\",\"text\":\"Hello\",\"annotations\":[]}]}]}}\n\n"

const responsesBody = `{"id":"resp_up","object":"response","created_at":7,"model":"m","status":"completed",` +
	`"output":[{"id":"msg_1","type":"message","role":"assistant","status":"completed","content":[{"type":"output_text","text":"Hello","annotations":[]}]}],` +
	`"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}`

// fakeUpstreamServer answers like a chat or responses upstream, streaming
// when the request body asks for it.
type fakeUpstreamServer struct {
	*httptest.Server
	hits     atomic.Int32
	lastAuth atomic.Value
}

func newFakeUpstream(t *testing.T, wire config.Wire) *fakeUpstreamServer {
	t.Helper()
	f := &fakeUpstreamServer{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)

		if !gjson.GetBytes(body, "stream").Bool() {
			w.Header().Set("Content-Type", "application/json")
			if wire == config.WireResponses {
				io.WriteString(w, responsesBody)
			} else {
				io.WriteString(w, chatCompletionBody)
			}
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		if wire == config.WireResponses {
			io.WriteString(w, responsesStreamBody)
		} else {
			io.WriteString(w, chatStreamBody)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstreamServer) auth() string {
	v, _ := f.lastAuth.Load().(string)
	return v
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

type testBridge struct {
	server   *Server
	http     *httptest.Server
	profiles *profile.Manager
	metrics  *metrics.Metrics
	shutdown chan struct{}
}

func newTestBridge(t *testing.T, base config.Overrides, profiles map[string]config.Overrides) *testBridge {
	t.Helper()
	mgr, err := profile.New(&config.ProfileSet{Base: base, Profiles: profiles, Initial: config.DefaultProfile})
	require.NoError(t, err)

	b := &testBridge{profiles: mgr, metrics: metrics.New(), shutdown: make(chan struct{}, 1)}
	b.server = New(Options{
		Profiles: mgr,
		Upstream: upstream.NewClient(nil),
		Metrics:  b.metrics,
		RequestShutdown: func() {
			b.shutdown <- struct{}{}
		},
	})
	b.http = httptest.NewServer(b.server.Handler())
	t.Cleanup(b.http.Close)
	return b
}

func (b *testBridge) post(t *testing.T, path, accept, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *testBridge) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(b.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestHealthz(t *testing.T) {
	b := newTestBridge(t, config.Overrides{}, nil)
	resp := b.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", readAll(t, resp))
}

func TestCORSPreflight(t *testing.T) {
	b := newTestBridge(t, config.Overrides{}, nil)
	req, err := http.NewRequest(http.MethodOptions, b.http.URL+"/v1/responses", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestResponsesStreamDefaultFollowsAccept(t *testing.T) {
	up := newFakeUpstream(t, config.WireChat)
	b := newTestBridge(t, config.Overrides{UpstreamURL: strp(up.URL)}, nil)
	body := `{"model":"m","input":"hi"}`

	streamed := b.post(t, "/v1/responses", "text/event-stream", body)
	assert.Equal(t, "text/event-stream", streamed.Header.Get("Content-Type"))
	assert.Contains(t, readAll(t, streamed), "event: response.completed")

	buffered := b.post(t, "/v1/responses", "application/json", body)
	assert.Equal(t, "application/json", buffered.Header.Get("Content-Type"))
	assert.Equal(t, "Hello", gjson.Get(readAll(t, buffered), "output.0.content.0.text").String())
}

func TestUpstreamReceivesBearerFromProfileEnv(t *testing.T) {
	t.Setenv("BRIDGE_SERVER_TEST_KEY", "sk-upstream")
	up := newFakeUpstream(t, config.WireChat)
	b := newTestBridge(t, config.Overrides{
		UpstreamURL: strp(up.URL),
		APIKeyEnv:   strp("BRIDGE_SERVER_TEST_KEY"),
	}, nil)

	resp := b.post(t, "/v1/chat/completions", "", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer sk-upstream", up.auth())
}

func TestProfileAPI(t *testing.T) {
	chatUp := newFakeUpstream(t, config.WireChat)
	respUp := newFakeUpstream(t, config.WireResponses)
	b := newTestBridge(t,
		config.Overrides{UpstreamURL: strp(chatUp.URL), Headers: map[string]string{"X-Secret": "value"}},
		map[string]config.Overrides{
			"alt": {UpstreamWire: strp("responses"), UpstreamURL: strp(respUp.URL)},
		},
	)

	current := readAll(t, b.get(t, "/profile"))
	assert.Equal(t, "default", gjson.Get(current, "name").String())
	assert.Equal(t, "chat", gjson.Get(current, "config.upstream_wire").String())
	assert.Equal(t, "X-Secret", gjson.Get(current, "config.static_header_names.0").String())
	assert.NotContains(t, current, "value")

	list := readAll(t, b.get(t, "/profiles"))
	assert.Equal(t, "default", gjson.Get(list, "active").String())
	assert.Equal(t, `["default","alt"]`, gjson.Get(list, "profiles").Raw)

	t.Run("unknown profile", func(t *testing.T) {
		resp := b.post(t, "/profile", "", `{"name":"nope"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "unknown_profile", gjson.Get(readAll(t, resp), "error.type").String())
		assert.Equal(t, "default", b.profiles.Active().Name)
	})

	t.Run("bad body", func(t *testing.T) {
		for _, body := range []string{`{"name":`, `{}`, `{"name":"  "}`} {
			resp := b.post(t, "/profile", "", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("switch routes new requests", func(t *testing.T) {
		resp := b.post(t, "/profile", "", `{"name":"alt"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "responses", gjson.Get(readAll(t, resp), "config.upstream_wire").String())

		chat := b.post(t, "/v1/chat/completions", "", `{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
		require.Equal(t, http.StatusOK, chat.StatusCode)
		assert.Equal(t, "Hello", gjson.Get(readAll(t, chat), "choices.0.message.content").String())
		assert.Equal(t, int32(1), respUp.hits.Load())
		assert.Equal(t, int32(0), chatUp.hits.Load())
	})
}

func TestShutdownEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		b := newTestBridge(t, config.Overrides{}, nil)
		resp := b.post(t, "/shutdown", "", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, http.StatusNotFound, b.get(t, "/shutdown").StatusCode)
	})

	t.Run("enabled", func(t *testing.T) {
		b := newTestBridge(t, config.Overrides{HTTPShutdown: boolp(true)}, nil)
		resp := b.get(t, "/shutdown")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case <-b.shutdown:
		case <-time.After(2 * time.Second):
			t.Fatal("shutdown was not requested")
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	up := newFakeUpstream(t, config.WireChat)
	b := newTestBridge(t, config.Overrides{UpstreamURL: strp(up.URL)}, nil)
	// Draining the stream waits for the handler to finish.
	readAll(t, b.post(t, "/v1/responses", "", `{"model":"m","input":"hi","stream":true}`))

	resp := b.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readAll(t, resp)
	assert.Contains(t, body, `chat_bridge_requests_total{endpoint="responses",outcome="ok",upstream_wire="chat"} 1`)
	assert.Contains(t, body, `chat_bridge_stream_events_total{event="response.completed"} 1`)
}

func TestRequestBodyTooLarge(t *testing.T) {
	b := newTestBridge(t, config.Overrides{}, nil)
	big := `{"model":"m","input":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := httptest.NewRecorder()
	b.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "invalid_request", gjson.Get(rec.Body.String(), "error.type").String())
}

func TestListenOnFreePortAndServerInfo(t *testing.T) {
	mgr, err := profile.New(config.NewProfileSet(nil, config.Overrides{}, config.Overrides{}, ""))
	require.NoError(t, err)
	s := New(Options{Profiles: mgr, Upstream: upstream.NewClient(nil)})

	addr, err := s.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	require.NotZero(t, addr.Port)

	errc := make(chan error, 1)
	go func() { errc <- s.Serve() }()

	path := filepath.Join(t.TempDir(), "info.json")
	require.NoError(t, WriteServerInfo(path, addr.Port))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(addr.Port), gjson.GetBytes(data, "port").Int())
	assert.Equal(t, int64(os.Getpid()), gjson.GetBytes(data, "pid").Int())

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(t.Context()))
	require.NoError(t, <-errc)
}

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRequestOptions(t *testing.T) {
	base := BaseRequestOptions{
		BaseURL: "http://h",
		Headers: map[string]string{"authorization": "Bearer base", "X-App": "demo"},
	}

	t.Run("relative url with defaults", func(t *testing.T) {
		r := MergeRequestOptions(base, RequestOptions{URL: "/s", Method: "post", Data: map[string]string{"m": "hi"}})
		assert.Equal(t, "http://h/s", r.URL)
		assert.Equal(t, "POST", r.Method)
		assert.True(t, r.Streaming)

		body, err := r.Body()
		require.NoError(t, err)
		assert.JSONEq(t, `{"m":"hi"}`, string(body))
	})

	t.Run("method defaults to GET", func(t *testing.T) {
		r := MergeRequestOptions(base, RequestOptions{URL: "/s"})
		assert.Equal(t, "GET", r.Method)
		body, err := r.Body()
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("absolute url ignores base", func(t *testing.T) {
		r := MergeRequestOptions(base, RequestOptions{URL: "https://other/x/:id", PathParams: map[string]string{"id": "7"}})
		assert.Equal(t, "https://other/x/7", r.URL)
	})

	t.Run("headers override field by field", func(t *testing.T) {
		r := MergeRequestOptions(base, RequestOptions{URL: "/s", Headers: map[string]string{"Authorization": "Bearer call"}})
		assert.Equal(t, "Bearer call", r.Headers["Authorization"])
		assert.Equal(t, "demo", r.Headers["X-App"])
		assert.Equal(t, "Bearer call", r.HTTPHeader().Get("authorization"))
	})

	t.Run("explicit single shot", func(t *testing.T) {
		r := MergeRequestOptions(base, RequestOptions{URL: "/s", Streaming: Bool(false)})
		assert.False(t, r.Streaming)
	})
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		params  map[string]string
		want    string
	}{
		{"no params", "/a/:id", nil, "/a/:id"},
		{"single", "/chat/:id/stream", map[string]string{"id": "42"}, "/chat/42/stream"},
		{"escaped value", "/u/:name", map[string]string{"name": "a b/c"}, "/u/a%20b%2Fc"},
		{"component marks kept", "/u/:id", map[string]string{"id": "a(1)!~*'_.-"}, "/u/a(1)!~*'_.-"},
		{"reserved and non-ascii escaped", "/u/:id", map[string]string{"id": "é?&=+#%"}, "/u/%C3%A9%3F%26%3D%2B%23%25"},
		{"missing placeholder left as is", "/a/:id/:rest", map[string]string{"id": "1"}, "/a/1/:rest"},
		{"prefix names", "/a/:id/:idx", map[string]string{"id": "1", "idx": "2"}, "/a/1/2"},
		{"first occurrence only", "/:id/:id", map[string]string{"id": "1"}, "/1/:id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.pattern, tt.params))
		})
	}
}

func TestIsAbsoluteURL(t *testing.T) {
	assert.True(t, IsAbsoluteURL("http://h"))
	assert.True(t, IsAbsoluteURL("HTTPS://h"))
	assert.True(t, IsAbsoluteURL("ws+unix://sock"))
	assert.False(t, IsAbsoluteURL("/s"))
	assert.False(t, IsAbsoluteURL("httpbin/s"))
}

func TestDecodeMessage(t *testing.T) {
	accepted := NewTypeSet("agent_response")

	t.Run("accepted", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"agent_response","content":"hello"}`), accepted)
		require.NoError(t, err)
		data, ok := msg.(*DataMessage)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, "agent_response", data.MessageType())
		assert.Equal(t, "hello", data.String("content"))

		out, err := json.Marshal(data)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"agent_response","content":"hello"}`, string(out))
	})

	t.Run("end", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"end"}`), accepted)
		require.NoError(t, err)
		assert.IsType(t, &EndMessage{}, msg)
	})

	t.Run("end wins even when accepted", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"end"}`), NewTypeSet("end"))
		require.NoError(t, err)
		assert.IsType(t, &EndMessage{}, msg)
	})

	t.Run("unknown type", func(t *testing.T) {
		msg, err := DecodeMessage([]byte(`{"type":"menu_table"}`), accepted)
		require.NoError(t, err)
		unknown, ok := msg.(*UnknownMessage)
		require.True(t, ok)
		assert.Equal(t, "menu_table", unknown.Type)
	})

	t.Run("missing type and non-object", func(t *testing.T) {
		for _, frame := range []string{`{"content":"x"}`, `[1]`, `null`, `"s"`} {
			msg, err := DecodeMessage([]byte(frame), accepted)
			require.NoError(t, err, frame)
			assert.IsType(t, &UnknownMessage{}, msg, frame)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`{"type":`), accepted)
		assert.Error(t, err)
	})
}

func TestDecodePayloadUpgradesDates(t *testing.T) {
	msg, err := DecodePayload([]byte(`{"answer":"x","created":"2018-05-24T12:00:00.123Z","items":[{"at":"2020-01-02T03:04:05+08:00"}],"bad":"2020-01-02T29:04:05Z"}`))
	require.NoError(t, err)

	created, ok := msg.Time("created")
	require.True(t, ok)
	assert.Equal(t, time.Date(2018, 5, 24, 12, 0, 0, 123000000, time.UTC), created.UTC())

	items := msg.Field("items").([]interface{})
	_, isTime := items[0].(map[string]interface{})["at"].(time.Time)
	assert.True(t, isTime)

	assert.Equal(t, "2020-01-02T29:04:05Z", msg.String("bad"))
	assert.Equal(t, "", msg.Type)
}

func TestNewTypeSetDefault(t *testing.T) {
	set := NewTypeSet()
	assert.True(t, set.Contains(DefaultMessageType))
	assert.Equal(t, []string{DefaultMessageType}, set.List())
}

package types

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestDescriptorDecode(t *testing.T) {
	raw := `{
		"method": "POST",
		"url": "https://example.com/upload",
		"headers": [["X-A", "1"], ["x-a", "2"]],
		"data": [104, 105],
		"connectTimeout": 1500,
		"maxRedirections": 0,
		"proxy": {
			"all": "http://proxy.local:3128",
			"https": {"url": "http://secure.local:3128", "basicAuth": {"username": "u", "password": "p"}, "noProxy": "localhost,10.0.0.0/8"}
		},
		"danger": {"acceptInvalidCerts": true},
		"userAgent": "shim/2"
	}`

	var desc RequestDescriptor
	require.NoError(t, sonic.Unmarshal([]byte(raw), &desc))

	assert.Equal(t, "POST", desc.Method)
	assert.Equal(t, []Header{{"X-A", "1"}, {"x-a", "2"}}, desc.Headers)
	assert.Equal(t, Bytes("hi"), desc.Data)
	require.NotNil(t, desc.ConnectTimeout)
	assert.Equal(t, uint64(1500), *desc.ConnectTimeout)
	require.NotNil(t, desc.MaxRedirections)
	assert.Equal(t, 0, *desc.MaxRedirections)

	require.NotNil(t, desc.Proxy)
	assert.Equal(t, &ProxyEntry{URL: "http://proxy.local:3128"}, desc.Proxy.All)
	assert.Nil(t, desc.Proxy.HTTP)
	require.NotNil(t, desc.Proxy.HTTPS)
	assert.Equal(t, "http://secure.local:3128", desc.Proxy.HTTPS.URL)
	assert.Equal(t, &BasicAuth{Username: "u", Password: "p"}, desc.Proxy.HTTPS.BasicAuth)
	assert.Equal(t, "localhost,10.0.0.0/8", desc.Proxy.HTTPS.NoProxy)

	require.NotNil(t, desc.Danger)
	assert.True(t, desc.Danger.AcceptInvalidCerts)
	assert.False(t, desc.Danger.AcceptInvalidHostnames)
	require.NotNil(t, desc.UserAgent)
	assert.Equal(t, "shim/2", *desc.UserAgent)
}

func TestBytesDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Bytes
		wantErr bool
	}{
		{name: "array", input: `[0, 255, 10]`, want: Bytes{0, 255, 10}},
		{name: "empty array", input: `[]`, want: Bytes{}},
		{name: "base64", input: `"aGVsbG8="`, want: Bytes("hello")},
		{name: "null", input: `null`, want: nil},
		{name: "out of range", input: `[256]`, wantErr: true},
		{name: "negative", input: `[-1]`, wantErr: true},
		{name: "bad base64", input: `"***"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Bytes
			err := b.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b)
		})
	}
}

func TestAbsentBodyStaysNil(t *testing.T) {
	var desc RequestDescriptor
	require.NoError(t, sonic.Unmarshal([]byte(`{"method":"PUT","url":"http://a.test","headers":[]}`), &desc))
	assert.Nil(t, desc.Data)
	assert.Nil(t, desc.Proxy)
	assert.Nil(t, desc.MaxRedirections)
}

func TestEventTerminal(t *testing.T) {
	assert.False(t, Event{Type: EventResponse}.Terminal())
	assert.False(t, Event{Type: EventData}.Terminal())
	assert.True(t, Event{Type: EventError}.Terminal())
	assert.True(t, Event{Type: EventDone}.Terminal())
}

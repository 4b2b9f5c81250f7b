package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_IsNotification(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"no id field", `{"jsonrpc":"2.0","method":"initialized"}`, true},
		{"explicit null id", `{"jsonrpc":"2.0","method":"initialized","id":null}`, true},
		{"numeric id", `{"jsonrpc":"2.0","method":"tools/list","id":1}`, false},
		{"string id", `{"jsonrpc":"2.0","method":"tools/list","id":"a"}`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var req Request
			require.NoError(t, json.Unmarshal([]byte(c.raw), &req))
			assert.Equal(t, c.want, req.IsNotification())
		})
	}
}

func TestResponse_OmitsResultOnError(t *testing.T) {
	resp := Response{JSONRPC: "2.0", ID: json.RawMessage("1"), Error: &Error{Code: CodeMethodNotFound, Message: "no such method"}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var round map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &round))
	assert.NotContains(t, round, "result")
	assert.Equal(t, float64(CodeMethodNotFound), round["error"].(map[string]interface{})["code"])
}

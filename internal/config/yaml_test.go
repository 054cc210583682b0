package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeToJSONPassthrough(t *testing.T) {
	in := []byte(`{"logging":{"level":"info"}}`)
	out, err := decodeToJSON("config.json", in)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeToJSONYAML(t *testing.T) {
	out, err := decodeToJSON("config.yml", []byte("logging:\n  level: debug\n  console: true\n"))
	require.NoError(t, err)
	require.JSONEq(t, `{"logging":{"level":"debug","console":true}}`, string(out))
}

func TestDecodeToJSONBadYAML(t *testing.T) {
	_, err := decodeToJSON("config.yaml", []byte("logging: [unclosed"))
	require.Error(t, err)
}

func TestStringifyKeys(t *testing.T) {
	v := stringifyKeys(map[any]any{
		1:    "one",
		"ok": []any{map[any]any{true: "yes"}},
	})
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `{"1":"one","ok":[{"true":"yes"}]}`, string(b))
}

package canonical

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Basic(t *testing.T) {
	owner := common.HexToAddress("0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e")
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"null", nil, "null"},
		{"nil string pointer", (*string)(nil), "null"},
		{"int", 42, "42"},
		{"uint64", uint64(18446744073709551615), "18446744073709551615"},
		{"bool", true, "true"},
		{"big int", big.NewInt(60), `"60"`},
		{"address", owner, `"0x00000000000c2e074ec69a0dfb2997ba6c7d2e1e"`},
		{"hash", common.Hash{}, `"0x0000000000000000000000000000000000000000000000000000000000000000"`},
		{"bytes", []byte{0xde, 0xad}, `"0xdead"`},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"empty object", map[string]any{}, "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshal_SortedKeys(t *testing.T) {
	got, err := Marshal(map[string]any{
		"zebra": 1,
		"alpha": map[string]any{"b": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"zebra":1}`, string(got))
}

func TestMarshal_UTF16Ordering(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800 0xDC00) and sorts before
	// U+E000 in UTF-16, the reverse of UTF-8 byte order.
	got, err := Marshal(map[string]any{
		"\uE000":     1,
		"\U00010000": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(got))
}

func TestMarshal_NoHTMLEscape(t *testing.T) {
	got, err := Marshal("<a href=\"x\">&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a href=\"x\">&</a>"`, string(got))
}

func TestMarshal_LineSeparatorsStayLiteral(t *testing.T) {
	got, err := Marshal("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = Marshal(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestMarshal_NFC(t *testing.T) {
	a, err := Marshal("caf\u00e9")
	require.NoError(t, err)
	b, err := Marshal("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarshal_RejectsFloats(t *testing.T) {
	_, err := Marshal(map[string]any{"x": 3.14})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float")
}

func TestMarshal_RejectsUnknownTypes(t *testing.T) {
	_, err := Marshal(struct{}{})
	require.Error(t, err)
}

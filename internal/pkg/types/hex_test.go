package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexFromString(t *testing.T) {
	t.Run("accepts valid hex strings", func(t *testing.T) {
		for _, s := range []string{"0x0", "0x1a", "0XFF", "0xde0b6b3a7640000"} {
			h, err := HexFromString(s)
			require.NoError(t, err, s)
			assert.Equal(t, Hex(s), h)
		}
	})

	t.Run("rejects strings without the 0x prefix", func(t *testing.T) {
		_, err := HexFromString("1a")
		assert.Error(t, err)
	})

	t.Run("rejects non-hex payloads", func(t *testing.T) {
		for _, s := range []string{"0x", "0xzz", "0x12g4"} {
			_, err := HexFromString(s)
			assert.Error(t, err, s)
		}
	})
}

func TestHex_UnmarshalJSON(t *testing.T) {
	t.Run("valid lowercase hex", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0x1a"`), &h))
		assert.Equal(t, Hex("0x1a"), h)
	})

	t.Run("valid uppercase hex", func(t *testing.T) {
		var h Hex
		require.NoError(t, json.Unmarshal([]byte(`"0X2F"`), &h))
		assert.Equal(t, Hex("0X2F"), h)
	})

	t.Run("missing 0x prefix", func(t *testing.T) {
		var h Hex
		require.Error(t, json.Unmarshal([]byte(`"1a"`), &h))
	})

	t.Run("invalid hex characters", func(t *testing.T) {
		var h Hex
		require.Error(t, json.Unmarshal([]byte(`"0xZZZ"`), &h))
	})

	t.Run("not a string", func(t *testing.T) {
		var h Hex
		require.Error(t, json.Unmarshal([]byte(`42`), &h))
	})
}

func TestHex_MarshalJSON(t *testing.T) {
	t.Run("encodes as a JSON string", func(t *testing.T) {
		data, err := json.Marshal(Hex("0x2a"))
		require.NoError(t, err)
		assert.Equal(t, `"0x2a"`, string(data))
	})
}

func TestHex_Dec(t *testing.T) {
	t.Run("converts small quantities", func(t *testing.T) {
		assert.Equal(t, "42", Hex("0x2a").Dec())
		assert.Equal(t, "0", Hex("0x0").Dec())
	})

	t.Run("preserves precision beyond 64 bits", func(t *testing.T) {
		// 2^128, unrepresentable as int64 or float64.
		h := Hex("0x100000000000000000000000000000000")
		assert.Equal(t, "340282366920938463463374607431768211456", h.Dec())
	})

	t.Run("treats the zero value as zero", func(t *testing.T) {
		assert.Equal(t, "0", Hex("").Dec())
	})
}

func TestHex_Int(t *testing.T) {
	t.Run("0x0a should be 10", func(t *testing.T) {
		assert.Equal(t, int64(10), Hex("0x0a").Int())
	})

	t.Run("0xff should be 255", func(t *testing.T) {
		assert.Equal(t, int64(255), Hex("0xff").Int())
	})

	t.Run("0X10 should be 16", func(t *testing.T) {
		assert.Equal(t, int64(16), Hex("0X10").Int())
	})

	t.Run("invalid hex returns 0", func(t *testing.T) {
		assert.Equal(t, int64(0), Hex("0xZZZ").Int())
	})

	t.Run("oversized values return 0", func(t *testing.T) {
		assert.Zero(t, Hex("0x100000000000000000000000000000000").Int())
	})
}

func TestHex_IsEmpty(t *testing.T) {
	assert.True(t, Hex("").IsEmpty())
	assert.False(t, Hex("0x0").IsEmpty())
}

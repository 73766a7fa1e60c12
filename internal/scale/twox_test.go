package scale_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auctionchain/auction-mirror/internal/scale"
)

// Expected digests match the storage prefixes substrate nodes derive for the
// well-known System pallet, e.g. the System.Account prefix
// 0x26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9.
func TestTwox128(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"System", "26aa394eea5630e07c48ae0c9558cef7"},
		{"Account", "b99d880ec681799c0cf30e8886371da9"},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			got := scale.Twox128([]byte(test.input))
			require.Equal(t, test.expected, hex.EncodeToString(got))
		})
	}
}

func TestStoragePrefix(t *testing.T) {
	prefix := scale.StoragePrefix("System", "Account")

	require.Len(t, prefix, 32)
	require.Equal(
		t,
		"26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9",
		hex.EncodeToString(prefix),
	)
}

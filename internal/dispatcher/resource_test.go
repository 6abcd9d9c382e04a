package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryMB(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512Mi", 512},
		{"1Gi", 1024},
		{"1Ti", 1024 * 1024},
		{"1024Ki", 1},
		{"1073741824", 1024},
	}
	for _, tc := range cases {
		got, err := ParseMemoryMB(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseCPUMillicores(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"100m", 100},
		{"0.1", 100},
		{"2", 2000},
	}
	for _, tc := range cases {
		got, err := ParseCPUMillicores(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestRequestFor(t *testing.T) {
	assert.Equal(t, int64(64), RequestFor(64, 128))
	assert.Equal(t, int64(128), RequestFor(512, 128))
}

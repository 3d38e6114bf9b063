package misc

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestFormatFileSize(t *testing.T) {
	for size, wantRes := range map[int64]string{
		0:                     "0 B",
		8:                     "8 B",
		1 << 15:               "32 KiB",
		1 << 20:               "1024 KiB",
		3 << 20:               "3 MiB",
		3<<20 + 1<<19:         "3.5 MiB",
		3<<20 + 1<<19 + 1<<18: "3.75 MiB",
		2 << 30:               "2 GiB",
	} {
		got := FormatFileSize(size)
		require.Equal(t, wantRes, got)
	}
}

func TestEnsureSuffix(t *testing.T) {
	r := require.New(t)
	r.Equal("hello/", EnsureSuffix("hello", "/"))
	r.Equal("/hello/", EnsureSuffix("/hello", "/"))
	r.Equal("/hello/", EnsureSuffix("/hello/", "/"))
	r.Equal("/hello/x", EnsureSuffix("/hello/", "x"))
}

func TestTruncate(t *testing.T) {
	r := require.New(t)
	r.Equal("hello", Truncate("hello", 5))
	r.Equal("hel...", Truncate("hello", 3))
	r.Equal("", Truncate("", 3))

	// "ж" takes 2 bytes, "€" takes 3.
	r.Equal("ж...", Truncate("жжж", 3))
	r.Equal("ж...", Truncate("жжж", 2))
	r.Equal("...", Truncate("€€", 2))
	r.Equal("€...", Truncate("€€", 3))
	r.True(utf8.ValidString(Truncate(strings.Repeat("ｐｄｆ", 100), 200)))
}

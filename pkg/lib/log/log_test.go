package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		level slog.Level
		ok    bool
	}{
		"debug":   {LevelDebug, true},
		"INFO":    {LevelInfo, true},
		" warn ":  {LevelWarn, true},
		"warning": {LevelWarn, true},
		"error":   {LevelError, true},
		"loud":    {LevelInfo, false},
	}

	for in, want := range cases {
		got, ok := ParseLevel(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.level, got, in)
	}
}

func TestLazyLogger_FollowsDefault(t *testing.T) {
	var buf bytes.Buffer
	SetOutputWithLevel(&buf, LevelDebug)
	defer SetOutputWithLevel(&bytes.Buffer{}, LevelInfo)

	Logger("overlay").Debug("peer connected", "peer", "abcd")

	assert.Contains(t, buf.String(), "component=overlay")
	assert.Contains(t, buf.String(), "peer connected")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "abcdefgh", TruncateID("abcdefghij", 8))
}

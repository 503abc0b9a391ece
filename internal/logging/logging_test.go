package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestWith_TagsComponent(t *testing.T) {
	prev := zlog.Logger
	defer func() { zlog.Logger = prev }()

	var buf bytes.Buffer
	zlog.Logger = zerolog.New(&buf)

	With("books").Info().Uint("book_id", 7).Msg("Book deleted")

	assert.Contains(t, buf.String(), `"component":"books"`)
	assert.Contains(t, buf.String(), `"book_id":7`)
}

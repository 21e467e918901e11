package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Debug().Str("bbox", "1,2,3,4").Msg("cache miss")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "cache miss", entry["message"])
	assert.Equal(t, "1,2,3,4", entry["bbox"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestAutoFormatNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "auto", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("plain")
	assert.True(t, json.Valid(buf.Bytes()), "non-terminal writer should get JSON, got %q", buf.String())
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	l := With("viewcache")
	l.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"viewcache"`)
}

func TestCtxRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	id := NewRequestID()
	ctx := WithRequestID(context.Background(), id)
	assert.Equal(t, id, RequestIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))

	Ctx(ctx).Info().Msg("request")
	assert.Contains(t, buf.String(), id)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "info", parseLevel("bogus").String())
	assert.Equal(t, "warn", parseLevel("WARNING").String())
	assert.Equal(t, "trace", parseLevel("trace").String())
}

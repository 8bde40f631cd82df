package aimatcher

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/tomtom215/danmuhub/internal/logging"
)

func testLogger() zerolog.Logger {
	return logging.Test(io.Discard)
}

func TestParseIndexReply(t *testing.T) {
	n := parseIndexReply("2", 5)
	if assert.NotNil(t, n) {
		assert.Equal(t, 2, *n)
	}

	assert.Nil(t, parseIndexReply("none", 5))
	assert.Nil(t, parseIndexReply("", 5))
	assert.Nil(t, parseIndexReply("9", 5)) // out of range
}

func TestConfigHashStableForSameInputs(t *testing.T) {
	a := Config{Provider: "openai-compatible", APIKey: "k", BaseURL: "http://x", Model: "m"}
	b := Config{Provider: "openai-compatible", APIKey: "k", BaseURL: "http://x", Model: "m"}
	assert.Equal(t, a.Hash(), b.Hash())

	c := Config{Provider: "openai-compatible", APIKey: "k2", BaseURL: "http://x", Model: "m"}
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestManagerReusesMatcherOnSameConfigHash(t *testing.T) {
	mgr := NewManager(testLogger())
	cfg := Config{Provider: "p", APIKey: "k", BaseURL: "http://x", Model: "m"}
	prompts1 := Prompts{SelectBestMatch: "a"}
	m1 := mgr.Get(cfg, prompts1)

	prompts2 := Prompts{SelectBestMatch: "b"}
	m2 := mgr.Get(cfg, prompts2)

	assert.Same(t, m1, m2)
	assert.Equal(t, "b", m2.prompts.SelectBestMatch)
}

func TestManagerRebuildsOnConfigChange(t *testing.T) {
	mgr := NewManager(testLogger())
	cfg1 := Config{Provider: "p", APIKey: "k1", BaseURL: "http://x", Model: "m"}
	cfg2 := Config{Provider: "p", APIKey: "k2", BaseURL: "http://x", Model: "m"}

	m1 := mgr.Get(cfg1, Prompts{})
	m2 := mgr.Get(cfg2, Prompts{})
	assert.NotSame(t, m1, m2)
}

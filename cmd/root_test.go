package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sync", "report", "export", "serve"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestParseSpan_Explicit(t *testing.T) {
	span, err := parseSpan("2024-03-01", "2024-03-31", 30)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), span.Start())
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), span.End())
}

func TestParseSpan_DaysFallback(t *testing.T) {
	span, err := parseSpan("2024-03-01", "", 7)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), span.Start())
	assert.Equal(t, 8, span.Days())
}

func TestParseSpan_DefaultsToToday(t *testing.T) {
	span, err := parseSpan("", "", 30)
	require.NoError(t, err)

	today := time.Now().UTC()
	assert.Equal(t, time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC), span.Start())
	assert.Equal(t, 31, span.Days())
}

func TestParseSpan_BadInput(t *testing.T) {
	_, err := parseSpan("yesterday", "", 30)
	assert.Error(t, err)

	_, err = parseSpan("2024-03-01", "soon", 30)
	assert.Error(t, err)
}

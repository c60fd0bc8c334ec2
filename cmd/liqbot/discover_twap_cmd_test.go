package main

import (
	"testing"

	"github.com/liqcore/liqbot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkRatioChainResolvesTerminalSymbol(t *testing.T) {
	table := &config.RatioTable{RatioFeeds: map[string]config.RatioFeedEntry{
		"wstETH": {BaseSymbol: "stETH", Ratio: 1.15},
	}}
	err := walkRatioChain(table, "wstETH", nil)
	require.NoError(t, err)
}

func TestWalkRatioChainDetectsCycle(t *testing.T) {
	table := &config.RatioTable{RatioFeeds: map[string]config.RatioFeedEntry{
		"A": {BaseSymbol: "B"},
		"B": {BaseSymbol: "A"},
	}}
	err := walkRatioChain(table, "A", nil)
	assert.Error(t, err)
}

func TestWalkRatioChainSelfCycle(t *testing.T) {
	table := &config.RatioTable{RatioFeeds: map[string]config.RatioFeedEntry{
		"A": {BaseSymbol: "A"},
	}}
	err := walkRatioChain(table, "A", nil)
	assert.Error(t, err)
}

package rpcpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHedgedRead_PrimarySucceedsWithoutHedge(t *testing.T) {
	p := New(KindRead, Config{URLs: []string{"https://a", "https://b"}}, zerolog.Nop())
	calls := 0
	v, err := p.HedgedRead(context.Background(), 1, 50*time.Millisecond, 5, func(ctx context.Context, e *Endpoint) (interface{}, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestHedgedRead_SkipsHedgeForTinyBatch(t *testing.T) {
	p := New(KindRead, Config{URLs: []string{"https://a", "https://b"}}, zerolog.Nop())
	v, err := p.HedgedRead(context.Background(), 2, 10*time.Millisecond, 5, func(ctx context.Context, e *Endpoint) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestWriteRace_FirstAcceptedWins(t *testing.T) {
	p := New(KindWrite, Config{URLs: []string{"https://a", "https://b", "https://c"}}, zerolog.Nop())
	v, _, err := p.WriteRace(context.Background(), func(ctx context.Context, e *Endpoint) (interface{}, error) {
		if e.URL == "https://b" {
			return "0xhash", nil
		}
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	assert.Equal(t, "0xhash", v)
}

func TestWriteRace_NoHealthyEndpointWhenEmpty(t *testing.T) {
	p := New(KindWrite, Config{}, zerolog.Nop())
	_, _, err := p.WriteRace(context.Background(), func(ctx context.Context, e *Endpoint) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
}

func TestEndpoint_MarkedUnhealthyAfterThreshold(t *testing.T) {
	e := newEndpoint("https://a?apikey=secret", 10)
	for i := 0; i < FailureThreshold; i++ {
		e.recordFailure(time.Now())
	}
	assert.False(t, e.healthy(time.Now()))
	assert.NotContains(t, e.MaskedURL(), "secret")
}

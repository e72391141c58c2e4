package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/live-danmaku/internal/transport"
)

func TestEmit_Delivers(t *testing.T) {
	sink := make(chan transport.Signal, 1)

	ok := transport.Emit(context.Background(), sink, transport.Opened{})

	assert.True(t, ok)
	assert.Equal(t, transport.Opened{}, <-sink)
}

func TestEmit_CancelledContext(t *testing.T) {
	sink := make(chan transport.Signal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, transport.Emit(ctx, sink, transport.Closed{}))
}

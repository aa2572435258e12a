package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithDefaults(t *testing.T) {
	opts := withDefaults(Options{})
	assert.Equal(t, 30*time.Second, opts.PageTimeout)
	assert.Equal(t, 1500*time.Millisecond, opts.Settle)

	custom := withDefaults(Options{PageTimeout: time.Second, Settle: 10 * time.Millisecond, SettleJitter: -1})
	assert.Equal(t, time.Second, custom.PageTimeout)
	assert.Equal(t, 10*time.Millisecond, custom.Settle)
	assert.Equal(t, time.Duration(0), custom.SettleJitter)
}

func TestDocumentStatus(t *testing.T) {
	assert.Equal(t, 200, documentStatus(0))
	assert.Equal(t, 403, documentStatus(403))
	assert.Equal(t, 429, documentStatus(429))
}

func TestSettle_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, settle(ctx, time.Hour, 0), context.Canceled)
	assert.NoError(t, settle(context.Background(), time.Millisecond, time.Millisecond))
}

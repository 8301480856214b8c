package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyIsStable(t *testing.T) {
	t.Parallel()

	a := IdempotencyKey("hash-1", "saxo")
	b := IdempotencyKey("hash-1", "saxo")
	c := IdempotencyKey("hash-1", "sim")
	d := IdempotencyKey("hash-2", "saxo")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.LessOrEqual(t, len(a), 50)
}

func TestQuoteMidAndSpread(t *testing.T) {
	t.Parallel()

	q := Quote{Bid: 1.0800, Ask: 1.0802}
	assert.InDelta(t, 1.0801, q.Mid(), 1e-9)
	assert.InDelta(t, 0.0002, q.Spread(), 1e-9)
}

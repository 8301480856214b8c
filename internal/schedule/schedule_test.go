package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var errHalt = errors.New("halt")

func TestRunStopsOnFatal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := New(zap.NewNop(), time.Second, func(err error) bool { return errors.Is(err, errHalt) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := r.Run(ctx, func(context.Context) error {
		if calls.Add(1) >= 2 {
			return errHalt
		}
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, errHalt)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestRunReturnsOnCancel(t *testing.T) {
	t.Parallel()

	r := New(nil, time.Hour, nil)

	ran := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-ran
		cancel()
	}()

	err := r.Run(ctx, func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})
	assert.NoError(t, err)
}

package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnterIsReentrantThroughContext(t *testing.T) {
	h := New(nil)
	ctx, release := h.Enter(context.Background())
	assert.True(t, h.Holds(ctx))
	assert.False(t, h.Holds(context.Background()))
	assert.False(t, New(nil).Holds(ctx), "holds are per host")

	nested, releaseNested := h.Enter(ctx)
	assert.Equal(t, ctx, nested)
	releaseNested()

	entered := make(chan struct{})
	go func() {
		_, release := h.Enter(context.Background())
		defer release()
		close(entered)
	}()
	select {
	case <-entered:
		t.Fatal("a second holder entered while the host was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("host lock was not released")
	}
}

package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drophub/drophub/internal/v1/types"
)

func TestDemandQueueOrdering(t *testing.T) {
	q := newDemandQueue()
	defer q.close()

	// Push more than the inlet buffer to exercise the unbounded middle.
	const n = 100
	for i := 0; i < n; i++ {
		require.True(t, q.push(types.UploadRequestEvent{BlockIndex: i}))
	}
	for i := 0; i < n; i++ {
		req := <-q.C()
		assert.Equal(t, i, req.BlockIndex)
	}
}

func TestDemandQueueCloseEndsConsumer(t *testing.T) {
	q := newDemandQueue()
	q.push(types.UploadRequestEvent{BlockIndex: 0})
	q.close()

	// Close drops any backlog; the consumer just sees end-of-stream.
	for range q.C() {
	}

	assert.False(t, q.push(types.UploadRequestEvent{BlockIndex: 1}))
	q.close()
}

package connection

import (
	"testing"

	"github.com/pfirsich/cm4all-lukko/lib/ssh/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// throttledConsumer consumes bytes against a budget; with budget 0 it is
// saturated and everything stays buffered.
type throttledConsumer struct {
	budget   int
	consumed []byte
	eof      bool
}

func (c *throttledConsumer) OnBufferedData(data []byte) (int, error) {
	n := len(data)
	if n > c.budget {
		n = c.budget
	}
	c.budget -= n
	c.consumed = append(c.consumed, data[:n]...)
	return n, nil
}

func (c *throttledConsumer) OnBufferedEOF() error {
	c.eof = true
	return nil
}

func (c *throttledConsumer) OnExtendedData(wire.ChannelExtendedDataType, []byte) error {
	return nil
}
func (c *throttledConsumer) OnRequest(string, []byte) (bool, error) { return false, nil }
func (c *throttledConsumer) OnWriteBlocked()                        {}
func (c *throttledConsumer) OnWriteUnblocked()                      {}
func (c *throttledConsumer) OnClose()                               {}

func TestBufferedChannelReassembly(t *testing.T) {
	consumer := &throttledConsumer{budget: 1 << 20}
	bc := NewBufferedChannel(consumer)

	require.NoError(t, bc.OnData([]byte("hel")))
	require.NoError(t, bc.OnData([]byte("lo ")))
	require.NoError(t, bc.OnData([]byte("world")))

	assert.Equal(t, "hello world", string(consumer.consumed))
	assert.Zero(t, bc.Pending())
}

func TestBufferedChannelPartialConsumption(t *testing.T) {
	consumer := &throttledConsumer{budget: 0}
	bc := NewBufferedChannel(consumer)

	require.NoError(t, bc.OnData([]byte("abcdef")))
	assert.Empty(t, consumer.consumed)
	assert.Equal(t, 6, bc.Pending())

	// the consumer can accept bytes again: an explicit wakeup drains
	consumer.budget = 4
	require.NoError(t, bc.Wakeup())
	assert.Equal(t, "abcd", string(consumer.consumed))
	assert.Equal(t, 2, bc.Pending())

	consumer.budget = 1 << 20
	require.NoError(t, bc.Wakeup())
	assert.Equal(t, "abcdef", string(consumer.consumed))
	assert.Zero(t, bc.Pending())
}

func TestBufferedChannelEOFAfterDrain(t *testing.T) {
	consumer := &throttledConsumer{budget: 0}
	bc := NewBufferedChannel(consumer)

	require.NoError(t, bc.OnData([]byte("tail")))
	require.NoError(t, bc.OnEOF())

	// EOF must not fire while bytes are still buffered
	assert.False(t, consumer.eof)

	consumer.budget = 1 << 20
	require.NoError(t, bc.Wakeup())
	assert.Equal(t, "tail", string(consumer.consumed))
	assert.True(t, consumer.eof)
}

func TestBufferedChannelImmediateEOF(t *testing.T) {
	consumer := &throttledConsumer{budget: 1 << 20}
	bc := NewBufferedChannel(consumer)

	require.NoError(t, bc.OnEOF())
	assert.True(t, consumer.eof)
}

package whatsapp

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEchoSuppressorConsumeOnce(t *testing.T) {
	s := newEchoSuppressor(echoCapacity)

	s.record("msg-1")
	assert.True(t, s.consume("msg-1"))
	assert.False(t, s.consume("msg-1"), "second consume of the same id must miss")
	assert.Equal(t, 0, s.len())
}

func TestEchoSuppressorUnknownID(t *testing.T) {
	s := newEchoSuppressor(echoCapacity)

	assert.False(t, s.consume("never-recorded"))
}

func TestEchoSuppressorDuplicateRecord(t *testing.T) {
	s := newEchoSuppressor(echoCapacity)

	s.record("msg-1")
	s.record("msg-1")
	assert.Equal(t, 1, s.len())

	assert.True(t, s.consume("msg-1"))
	assert.False(t, s.consume("msg-1"))
}

func TestEchoSuppressorEvictsOldest(t *testing.T) {
	s := newEchoSuppressor(echoCapacity)

	for i := 0; i <= echoCapacity; i++ {
		s.record(fmt.Sprintf("msg-%d", i))
	}

	assert.Equal(t, echoCapacity, s.len())
	assert.False(t, s.consume("msg-0"), "oldest entry must be evicted")
	assert.True(t, s.consume("msg-1"))
	assert.True(t, s.consume(fmt.Sprintf("msg-%d", echoCapacity)))
}

package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache(t *testing.T) {
	c := NewCache()

	_, ok := c.CPUPercent()
	assert.False(t, ok)
	_, ok = c.MemoryPercent()
	assert.False(t, ok)

	c.Store(Sample{CPUPercent: 12, MemoryPercent: 34})
	cpu, ok := c.CPUPercent()
	assert.True(t, ok)
	assert.Equal(t, 12.0, cpu)
	mem, ok := c.MemoryPercent()
	assert.True(t, ok)
	assert.Equal(t, 34.0, mem)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())

	cfg := NewDefaultConfig()
	cfg.HighMemoryPercent = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.SubscriberBuffer = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.SinkTimeout = 0
	assert.Error(t, cfg.Validate())
}

package service

import (
	"sync"
	"testing"

	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestStreamingCountersConcurrentAdd(t *testing.T) {

	assert := assert.New(t)

	c := NewStreamingCounters()
	assert.False(c.Dirty())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add("A", domain.SignalAccelerometer, 1)
			}
		}()
	}
	wg.Wait()

	assert.True(c.Dirty())
	snap := c.Snapshot()
	assert.Equal(uint64(800), snap["A"][domain.SignalAccelerometer])
	assert.False(c.Dirty())
	assert.Equal(uint64(800), c.Total("A"))

	c.Reset()
	assert.Equal(uint64(0), c.Total("A"))
}

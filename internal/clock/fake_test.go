// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	var seenAt []time.Duration
	c.AfterFunc(3*time.Second, func() {
		order = append(order, "b")
		seenAt = append(seenAt, c.Now().Sub(start))
	})
	c.AfterFunc(1*time.Second, func() {
		order = append(order, "a")
		seenAt = append(seenAt, c.Now().Sub(start))
	})
	c.AfterFunc(10*time.Second, func() { order = append(order, "late") })

	c.Advance(5 * time.Second)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, seenAt)
	assert.Equal(t, start.Add(5*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop is a no-op")

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_RearmedTimersFireWithinWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	assert.Equal(t, 5, ticks)
}

func TestOrReal(t *testing.T) {
	assert.NotNil(t, OrReal(nil))
	fake := NewFake(time.Unix(10, 0))
	assert.Equal(t, fake, OrReal(fake))
}

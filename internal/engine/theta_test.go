package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThetaClockInitClampedToClassBounds(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)
	assert.InDelta(t, 60.0, c.period(), 1e-12, "Expected the init period inside desktop bounds")

	c = newThetaClock(true, 1, ClassDesktop)
	assert.InDelta(t, 5.0, c.period(), 1e-12, "Expected clamping to the desktop floor")

	c = newThetaClock(true, 500, ClassMobile)
	assert.InDelta(t, 120.0, c.period(), 1e-12, "Expected clamping to the mobile ceiling")
}

func TestThetaClockStepClamp(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)

	// EMA toward dt=1 wants 48.2, but a single step moves at most 10%
	dtheta, gap := c.advance(1)
	assert.False(t, gap, "Expected no gap on the first interval")
	assert.InDelta(t, 54.0, c.period(), 1e-9, "Expected a 10% step, not the full EMA move")
	assert.InDelta(t, 1.0/54.0, dtheta, 1e-9, "Expected dt over the updated period")
}

func TestThetaClockConvergesToClassFloor(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)
	for i := 0; i < 50; i++ {
		c.advance(1)
	}

	assert.InDelta(t, 5.0, c.period(), 1e-9, "Expected convergence to the desktop floor for 1s sampling")
}

func TestThetaClockIndexAccumulates(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)

	var sum float64
	for i := 0; i < 20; i++ {
		dtheta, _ := c.advance(1)
		sum += dtheta
	}

	assert.InDelta(t, sum, c.elapsed(), 1e-9, "Expected the index to track the accumulated increments")
	assert.Greater(t, c.elapsed(), 0.0, "Expected a strictly increasing index")
}

func TestThetaClockGapFlag(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)
	for i := 0; i < 5; i++ {
		_, gap := c.advance(1)
		assert.False(t, gap, "Expected no gap during steady cadence")
	}

	_, gap := c.advance(10)
	assert.True(t, gap, "Expected a gap flag for an interval well past the recent cadence")

	_, gap = c.advance(1)
	assert.False(t, gap, "Expected the flag to clear once cadence resumes")
}

func TestThetaClockDisabledPassthrough(t *testing.T) {
	c := newThetaClock(false, 60, ClassDesktop)

	dtheta, _ := c.advance(2.5)
	assert.InDelta(t, 2.5, dtheta, 1e-12, "Expected wall seconds when disabled")
	assert.InDelta(t, 42.0, c.normalize(42), 1e-12, "Expected normalize to be identity when disabled")
}

func TestThetaClockNormalize(t *testing.T) {
	c := newThetaClock(true, 60, ClassDesktop)
	assert.InDelta(t, 1.0, c.normalize(60), 1e-9, "Expected one period to normalize to one")
	assert.InDelta(t, 0.5, c.normalize(30), 1e-9, "Expected half a period")
}

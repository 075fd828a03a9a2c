package disable_test

import (
	"testing"

	"github.com/ndproxyd/ndproxyd/internal/disable"
	"github.com/stretchr/testify/assert"
)

func newCounted() (l *disable.Labels, enabled, disabled *int) {
	enabled, disabled = new(int), new(int)
	l = &disable.Labels{
		OnEnabled:  func() { *enabled++ },
		OnDisabled: func() { *disabled++ },
	}

	return l, enabled, disabled
}

func TestLabels_firstMarkFiresOnce(t *testing.T) {
	t.Parallel()

	l, enabledCount, disabledCount := newCounted()

	assert.True(t, l.MarkSoftwareDisabled(true))
	assert.Equal(t, 1, *disabledCount)

	// A second reason must not fire OnDisabled again.
	assert.False(t, l.MarkLinkDown())
	assert.Equal(t, 1, *disabledCount)
	assert.Equal(t, 0, *enabledCount)
}

func TestLabels_clearSoftLabels(t *testing.T) {
	t.Parallel()

	l, enabledCount, _ := newCounted()

	l.MarkSoftwareDisabled(false)
	l.MarkLinkDown()

	// Hard reason still present: clearing soft labels must not reenable.
	assert.False(t, l.ClearSoftLabels(true))
	assert.Equal(t, 0, *enabledCount)
	assert.True(t, l.IsMarked(disable.LinkDown))
	assert.False(t, l.IsMarked(disable.SoftwareDisabled))

	l.ClearLinkDown()
	assert.Equal(t, 1, *enabledCount)
}

func TestLabels_clearSoftLabels_noCallbackRequested(t *testing.T) {
	t.Parallel()

	l, enabledCount, _ := newCounted()

	l.MarkSoftwareDisabled(false)
	assert.False(t, l.ClearSoftLabels(false))
	assert.Equal(t, 0, *enabledCount)
	assert.False(t, l.IsMarked(disable.SoftwareDisabled))
}

func TestLabels_clearAllLabels(t *testing.T) {
	t.Parallel()

	l, enabledCount, _ := newCounted()

	l.MarkSoftwareDisabled(false)
	l.MarkLinkDown()

	l.ClearAllLabels(true)
	assert.Equal(t, 1, *enabledCount)
	assert.False(t, l.IsMarked(disable.LinkDown))
	assert.False(t, l.IsMarked(disable.SoftwareDisabled))
}

func TestLabels_tryEnable(t *testing.T) {
	t.Parallel()

	l, enabledCount, _ := newCounted()

	assert.True(t, l.TryEnable())
	assert.Equal(t, 1, *enabledCount)

	l.MarkGroupless(false)
	assert.False(t, l.TryEnable())
	assert.Equal(t, 1, *enabledCount)
}

func TestLabels_lastClearFiresEnabled(t *testing.T) {
	t.Parallel()

	l, enabledCount, disabledCount := newCounted()

	l.MarkSoftwareDisabled(true)
	l.MarkLoopDetected()
	assert.Equal(t, 1, *disabledCount)

	assert.False(t, l.ClearSoftwareDisabled(true))
	assert.Equal(t, 0, *enabledCount)

	assert.True(t, l.ClearLoopDetected())
	assert.Equal(t, 1, *enabledCount)
}

package arena

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAlignment(t *testing.T) {
	a := New(WithPageSize(256))

	b1, err := a.Push(3, 1)
	require.NoError(t, err)
	require.Len(t, b1, 3)

	b2, err := a.Push(8, 8)
	require.NoError(t, err)
	require.Len(t, b2, 8)
	assert.Equal(t, 1, a.Pages())

	// b2 starts on the next 8-byte boundary of the page.
	assert.Equal(t, 16, a.pages[0].off)
}

func TestPushGrowsPages(t *testing.T) {
	a := New(WithPageSize(64))
	first, err := a.Push(48, 1)
	require.NoError(t, err)
	first[0] = 0xAA

	_, err = a.Push(48, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Pages())
	assert.Equal(t, byte(0xAA), first[0], "earlier pushes never move")

	big, err := a.Push(1000, 16)
	require.NoError(t, err)
	assert.Len(t, big, 1000)
	assert.Equal(t, 3, a.Pages())
}

func TestPushRejectsBadArguments(t *testing.T) {
	a := New()
	_, err := a.Push(-1, 1)
	require.Error(t, err)
	_, err = a.Push(4, 3)
	require.Error(t, err)
}

func TestFrameRollback(t *testing.T) {
	a := New(WithPageSize(64))
	keep, err := a.Push(16, 1)
	require.NoError(t, err)
	keep[0] = 1

	f := a.Begin()
	scratch, err := a.Push(32, 1)
	require.NoError(t, err)
	scratch[0] = 0xFF
	_, err = a.Push(64, 1)
	require.NoError(t, err)
	require.Equal(t, 2, a.Pages())

	usedBefore := f.used
	f.End()

	assert.Equal(t, 1, a.Pages())
	assert.Equal(t, usedBefore, a.Used())
	assert.Equal(t, byte(1), keep[0])

	again, err := a.Push(32, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0), again[0], "memory handed out again is zeroed")
}

func TestNestedFrames(t *testing.T) {
	a := New(WithPageSize(128))
	outer := a.Begin()
	_, err := a.Push(10, 1)
	require.NoError(t, err)
	inner := a.Begin()
	_, err = a.Push(10, 1)
	require.NoError(t, err)
	inner.End()
	assert.Equal(t, 10, a.pages[0].off)
	outer.End()
	assert.Equal(t, 0, a.pages[0].off)
}

func TestEndStaleFrame(t *testing.T) {
	a := New(WithPageSize(64))
	outer := a.Begin()
	_, err := a.Push(16, 1)
	require.NoError(t, err)
	inner := a.Begin()
	_, err = a.Push(64, 1)
	require.NoError(t, err)
	require.Equal(t, 2, a.Pages())

	// Ending the outer frame releases the inner one too.
	outer.End()
	assert.Equal(t, 0, a.Pages())
	assert.Equal(t, 0, a.Used())
	assert.NotPanics(t, inner.End)

	// A second End must not free what was pushed after the first.
	f := a.Begin()
	f.End()
	keep, err := a.Push(8, 1)
	require.NoError(t, err)
	keep[0] = 7
	used := a.Used()
	f.End()
	assert.Equal(t, 1, a.Pages())
	assert.Equal(t, used, a.Used())
	assert.Equal(t, byte(7), keep[0])

	// Frames begun after a committed scope still unwind normally.
	require.NoError(t, a.Scope(func() error {
		_, err := a.Push(8, 1)
		return err
	}))
	g := a.Begin()
	_, err = a.Push(64, 1)
	require.NoError(t, err)
	g.End()
	g.End()
	assert.Equal(t, 1, a.Pages())
	assert.Empty(t, a.open)
}

func TestLimit(t *testing.T) {
	a := New(WithPageSize(64), WithLimit(100))
	_, err := a.Push(10, 1)
	require.NoError(t, err)
	_, err = a.Push(60, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
}

func TestScope(t *testing.T) {
	a := New(WithPageSize(64))
	err := a.Scope(func() error {
		_, err := a.Push(16, 1)
		require.NoError(t, err)
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, a.Pages())

	err = a.Scope(func() error {
		_, err := a.Push(16, 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Pages())
}

func TestFrameHooks(t *testing.T) {
	a := New()
	var order []int
	f := a.Begin()
	a.OnRelease(func() { order = append(order, 1) })
	a.OnRelease(func() { order = append(order, 2) })
	f.End()
	assert.Equal(t, []int{2, 1}, order)
}

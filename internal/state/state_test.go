package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootHasStackPointerAndNotInitRegs(t *testing.T) {
	root := NewRoot()
	require.Len(t, root.Frames, 1)
	assert.Equal(t, KindPtrToStack, root.Reg(10).Kind)
	for r := 0; r < 10; r++ {
		assert.Equal(t, KindNotInit, root.Reg(r).Kind, "r%d", r)
	}
}

func TestForkIsIndependentOfParent(t *testing.T) {
	root := NewRoot()
	root.Frames[0].Regs[1] = ScalarConst(5)

	child := root.Fork(3)
	require.Same(t, root, child.Parent)

	// mutating the child must not affect the parent.
	child.Frames[0].Regs[1] = ScalarConst(9)
	v, ok := root.Reg(1).ConstValue()
	require.True(t, ok)
	assert.EqualValues(t, 5, v)

	cv, ok := child.Reg(1).ConstValue()
	require.True(t, ok)
	assert.EqualValues(t, 9, cv)
}

func TestForkDeepCopiesStackAndRefs(t *testing.T) {
	root := NewRoot()
	root.Frames[0].Stack.EnsureSlot(0)
	root.Frames[0].Stack.Slot(0).ByteType[0] = SlotZero
	root.Frames[0].AddRef(1, 10, false)

	child := root.Fork(4)
	child.Frames[0].Stack.Slot(0).ByteType[0] = SlotMisc
	child.Frames[0].ReleaseRef(1)

	assert.Equal(t, SlotZero, root.Frames[0].Stack.Slot(0).ByteType[0])
	assert.Len(t, root.Frames[0].Refs, 1)
	assert.Len(t, child.Frames[0].Refs, 0)
}

func TestPushPopFrame(t *testing.T) {
	root := NewRoot()
	ok := root.PushFrame(1, 7)
	require.True(t, ok)
	assert.Equal(t, 1, root.CurFrame)

	resumeAt, ok := root.PopFrame()
	require.True(t, ok)
	assert.Equal(t, 8, resumeAt)
	assert.Equal(t, 0, root.CurFrame)
}

func TestPushFrameRespectsMaxCallFrames(t *testing.T) {
	root := NewRoot()
	for i := 0; i < MaxCallFrames-1; i++ {
		require.True(t, root.PushFrame(i+1, i))
	}
	assert.False(t, root.PushFrame(99, 99))
}

func TestPopFrameAtOutermostFails(t *testing.T) {
	root := NewRoot()
	_, ok := root.PopFrame()
	assert.False(t, ok)
}

func TestArenaHandleInvalidatedAfterFree(t *testing.T) {
	a := NewArena()
	root := NewRoot()
	h := a.Put(root)

	got, ok := a.Get(h)
	require.True(t, ok)
	assert.Same(t, root, got)

	a.Free(h)
	_, ok = a.Get(h)
	assert.False(t, ok)
}

func TestArenaReusesFreedSlotWithNewGeneration(t *testing.T) {
	a := NewArena()
	h1 := a.Put(NewRoot())
	a.Free(h1)
	h2 := a.Put(NewRoot())

	assert.Equal(t, h1.idx, h2.idx)
	_, ok := a.Get(h1)
	assert.False(t, ok, "stale handle into a reused slot must not resolve")
	_, ok = a.Get(h2)
	assert.True(t, ok)
}

func TestWorklistDepthFirstOrder(t *testing.T) {
	a := NewArena()
	w := NewWorklist(a)

	s1 := NewRoot()
	s2 := s1.Fork(1)
	s3 := s1.Fork(2)
	w.Push(s1)
	w.Push(s2)
	w.Push(s3)

	got, ok := w.Pop()
	require.True(t, ok)
	assert.Same(t, s3, got)

	got, ok = w.Pop()
	require.True(t, ok)
	assert.Same(t, s2, got)

	got, ok = w.Pop()
	require.True(t, ok)
	assert.Same(t, s1, got)

	assert.True(t, w.Empty())
	_, ok = w.Pop()
	assert.False(t, ok)
}

func TestWorklistSkipsFreedHandles(t *testing.T) {
	a := NewArena()
	w := NewWorklist(a)

	s1 := NewRoot()
	h1 := w.Push(s1)
	s2 := s1.Fork(1)
	w.Push(s2)

	a.Free(h1)

	got, ok := w.Pop()
	require.True(t, ok)
	assert.Same(t, s2, got)

	_, ok = w.Pop()
	assert.False(t, ok)
}

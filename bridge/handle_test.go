package bridge

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/cpy/cpytest"
)

func TestHandleEquality(t *testing.T) {
	f := cpytest.New(t)
	ip := cpy.New(f, nil)
	obj := f.NewInt(7)
	other := f.NewInt(7)

	a := newHandle(ip, obj)
	b := newHandle(ip, obj)
	c := newHandle(ip, other)

	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
	assert.False(t, a.Equal(c), "distinct foreign objects must differ")
	assert.False(t, a.Equal(nil))
	assert.Equal(t, a.Hash(), b.Hash())

	// The same address under another interpreter is a different object.
	f2 := cpytest.New(t)
	ip2 := cpy.New(f2, nil)
	assert.False(t, a.Equal(newHandle(ip2, obj)))
}

func TestHandleCloseIdempotent(t *testing.T) {
	f := cpytest.New(t)
	ip := cpy.New(f, nil)
	obj := f.NewInt(7)

	h := newHandle(ip, obj)
	require.NoError(t, h.Close())
	assert.Equal(t, -1, f.Refs(obj), "close must release the reference")

	require.NoError(t, h.Close())
	assert.Equal(t, 1, f.Calls("DecRef"), "a second close must not release again")
	assert.Empty(t, f.Violations())
}

func TestHandleCloseAfterAutoRelease(t *testing.T) {
	f := cpytest.New(t)
	ip := cpy.New(f, nil)
	obj := f.NewInt(7)

	h := newHandle(ip, obj)
	h.AutoRelease()
	require.NoError(t, h.Close())
	assert.Equal(t, 1, f.Refs(obj), "the collector owns the reference now")
	assert.Zero(t, f.Calls("DecRef"))
	runtime.KeepAlive(h)
}

func TestHandleAutoReleaseCollects(t *testing.T) {
	f := cpytest.New(t)
	ip := cpy.New(f, nil)
	obj := f.NewInt(7)

	func() {
		h := newHandle(ip, obj)
		h.AutoRelease()
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return f.Refs(obj) == -1
	}, 2*time.Second, 10*time.Millisecond, "an unreachable handle must release its reference")
	assert.Empty(t, f.Violations())
}

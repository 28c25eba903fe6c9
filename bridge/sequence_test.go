package bridge

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/cpy/cpytest"
)

func wrapSeries(t *testing.T, f *cpytest.FakeAPI, env *Environment, attrs map[string]cpy.Ref) *Instance {
	t.Helper()
	series, ok := env.Registry().ByName("Series")
	require.True(t, ok)
	return env.wrap(f.NewObject(attrs), series)
}

func volumesSequence(t *testing.T, f *cpytest.FakeAPI, env *Environment, values ...int64) (*Instance, *Sequence) {
	t.Helper()
	items := make([]cpy.Ref, len(values))
	for i, v := range values {
		items[i] = f.NewInt(v)
	}
	inst := wrapSeries(t, f, env, map[string]cpy.Ref{
		"volumes": f.NewList(items...),
	})
	got, err := inst.Get("Volumes")
	require.NoError(t, err)
	seq, ok := got.(*Sequence)
	require.True(t, ok)
	return inst, seq
}

func TestSequenceLenOnDemand(t *testing.T) {
	f, env := newTestEnv(t)
	inst, seq := volumesSequence(t, f, env, 10, 20, 30)

	before := f.Calls("CallObject")
	n, err := seq.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, f.Calls("CallObject")-before, "each Len asks the foreign side once")

	n, err = seq.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, f.Calls("CallObject")-before)

	runtime.KeepAlive(inst)
	runtime.KeepAlive(seq)
}

func TestSequenceMonotonicGet(t *testing.T) {
	f, env := newTestEnv(t)
	inst, seq := volumesSequence(t, f, env, 10, 20, 30)

	_, err := seq.Get(-1)
	require.Error(t, err)

	base := f.Calls("CallObject")
	step := func() int {
		d := f.Calls("CallObject") - base
		base = f.Calls("CallObject")
		return d
	}

	v, err := seq.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
	assert.Equal(t, 2, step(), "first access starts an iterator and advances once")

	v, err = seq.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)
	assert.Equal(t, 1, step(), "increasing access reuses the iterator")

	v, err = seq.Get(2)
	require.NoError(t, err)
	assert.Equal(t, int64(30), v)
	assert.Equal(t, 1, step())

	v, err = seq.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), v)
	assert.Equal(t, 2, step(), "going backward pays for a fresh iterator")

	_, err = seq.Get(3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index 3 out of range")
	assert.False(t, f.RaisedPending(), "iterator exhaustion is not an error state")
	assert.Equal(t, 3, step())

	// The exhausted iterator was dropped; access starts over.
	v, err = seq.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)
	assert.Equal(t, 3, step())

	runtime.KeepAlive(inst)
	runtime.KeepAlive(seq)
}

func TestSequenceIterate(t *testing.T) {
	f, env := newTestEnv(t)
	citation, ok := env.Registry().ByName("Citation")
	require.True(t, ok)
	inst := env.wrap(f.NewObject(map[string]cpy.Ref{
		"alternate_titles": f.NewList(f.NewStr("Vol. I"), f.NewStr("Vol. II")),
	}), citation)

	got, err := inst.Get("AlternateTitles")
	require.NoError(t, err)
	seq := got.(*Sequence)

	var titles []string
	it := seq.Iterate()
	for it.Next() {
		titles = append(titles, it.Value().(string))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"Vol. I", "Vol. II"}, titles)
	assert.False(t, it.Next(), "a finished iterator stays finished")
	assert.False(t, f.RaisedPending())

	runtime.KeepAlive(inst)
	runtime.KeepAlive(seq)
}

func TestSequenceOfProxies(t *testing.T) {
	f, env := newTestEnv(t)
	citation, ok := env.Registry().ByName("Citation")
	require.True(t, ok)
	first := f.NewObject(map[string]cpy.Ref{"year": f.NewInt(1984)})
	second := f.NewObject(map[string]cpy.Ref{"year": f.NewInt(2001)})
	inst := env.wrap(f.NewObject(map[string]cpy.Ref{
		"dates": f.NewList(first, second),
	}), citation)

	got, err := inst.Get("Dates")
	require.NoError(t, err)
	seq := got.(*Sequence)

	var years []int64
	it := seq.Iterate()
	for it.Next() {
		date, ok := it.Value().(*Instance)
		require.True(t, ok)
		require.NotNil(t, date.Type())
		assert.Equal(t, "Date", date.Type().Name)
		year, err := date.Get("Year")
		require.NoError(t, err)
		years = append(years, year.(int64))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{1984, 2001}, years)

	runtime.KeepAlive(inst)
	runtime.KeepAlive(seq)
}

func TestSequenceAbsent(t *testing.T) {
	f, env := newTestEnv(t)
	citation, ok := env.Registry().ByName("Citation")
	require.True(t, ok)
	inst := env.wrap(f.NewObject(map[string]cpy.Ref{
		"dates": f.None(),
	}), citation)
	snap := f.Snapshot()
	before := f.Calls("CallObject")

	got, err := inst.Get("Dates")
	require.NoError(t, err)
	seq, ok := got.(*Sequence)
	require.True(t, ok, "an absent multi-valued property is an empty sequence, not nil")

	n, err := seq.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = seq.Get(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	it := seq.Iterate()
	assert.False(t, it.Next())
	require.NoError(t, it.Err())

	cur, err := seq.Bidirectional()
	require.NoError(t, err)
	assert.False(t, cur.Next())
	assert.False(t, cur.Prev())

	assert.Equal(t, before, f.Calls("CallObject"), "absence never reaches the foreign side")
	f.CheckBaseline(t, snap)
	runtime.KeepAlive(inst)
}

func TestCursorBidirectional(t *testing.T) {
	f, env := newTestEnv(t)
	inst, seq := volumesSequence(t, f, env, 10, 20, 30)

	cur, err := seq.Bidirectional()
	require.NoError(t, err)
	base := f.Calls("CallObject")

	var forward []int64
	for range 3 {
		require.True(t, cur.Next())
		forward = append(forward, cur.Value().(int64))
	}
	assert.Equal(t, []int64{10, 20, 30}, forward)
	assert.Equal(t, 3, f.Calls("CallObject")-base)

	var backward []int64
	for range 3 {
		require.True(t, cur.Prev())
		backward = append(backward, cur.Value().(int64))
	}
	assert.Equal(t, []int64{30, 20, 10}, backward)
	assert.False(t, cur.Prev(), "the cursor stops at the front")
	assert.Equal(t, 3, f.Calls("CallObject")-base, "walking backward fetches nothing")

	var replay []int64
	for range 3 {
		require.True(t, cur.Next())
		replay = append(replay, cur.Value().(int64))
	}
	assert.Equal(t, []int64{10, 20, 30}, replay)
	assert.Equal(t, 3, f.Calls("CallObject")-base, "replaying forward reuses fetched elements")

	assert.False(t, cur.Next())
	require.NoError(t, cur.Err())
	assert.Equal(t, 4, f.Calls("CallObject")-base, "only the final advance goes foreign")

	runtime.KeepAlive(inst)
	runtime.KeepAlive(seq)
}

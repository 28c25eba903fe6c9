package bridge

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/cpy/cpytest"
)

func wrapCitation(t *testing.T, f *cpytest.FakeAPI, env *Environment, attrs map[string]cpy.Ref) *Instance {
	t.Helper()
	citation, ok := env.Registry().ByName("Citation")
	require.True(t, ok)
	return env.wrap(f.NewObject(attrs), citation)
}

func TestDispatchConvertsDeclaredResults(t *testing.T) {
	f, env := newTestEnv(t)
	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"title":     f.NewStr("Sea chart compendium"),
		"num_pages": f.NewInt(364),
		"scale":     f.NewFloat(5e-5),
		"published": f.NewBool(true),
	})
	snap := f.Snapshot()

	title, err := inst.Get("Title")
	require.NoError(t, err)
	assert.Equal(t, "Sea chart compendium", title)

	// PageCount reaches the foreign side under its declared identifier.
	pages, err := inst.Get("PageCount")
	require.NoError(t, err)
	assert.Equal(t, int64(364), pages)

	scale, err := inst.Get("Scale")
	require.NoError(t, err)
	assert.Equal(t, 5e-5, scale)

	published, err := inst.Get("Published")
	require.NoError(t, err)
	assert.Equal(t, true, published)

	f.CheckBaseline(t, snap)
	assert.Empty(t, f.Violations())
	runtime.KeepAlive(inst)
}

func TestDispatchAbsentValue(t *testing.T) {
	f, env := newTestEnv(t)
	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"title": f.None(),
	})
	snap := f.Snapshot()

	// A None property is absence, not an error.
	title, err := inst.Get("Title")
	require.NoError(t, err)
	assert.Nil(t, title)

	// A property the object does not even have is a foreign error.
	_, err = inst.Get("Scale")
	require.Error(t, err)
	var rerr *cpy.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "AttributeError", rerr.Type)
	assert.False(t, f.RaisedPending(), "the raised error must be consumed")

	f.CheckBaseline(t, snap)
	runtime.KeepAlive(inst)
}

func TestDispatchUndeclaredName(t *testing.T) {
	f, env := newTestEnv(t)
	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"legal_notes": f.NewStr("public domain"),
	})

	// Names outside the catalog interface transliterate and come back
	// as untyped proxies.
	got, err := inst.Get("legalNotes")
	require.NoError(t, err)
	proxy, ok := got.(*Instance)
	require.True(t, ok)
	assert.Nil(t, proxy.Type())
	assert.Equal(t, "public domain", proxy.String())
	runtime.KeepAlive(inst)
}

func TestDispatchSelfReuse(t *testing.T) {
	f, env := newTestEnv(t)
	obj := f.NewObject(nil)
	f.At(obj).Refs++ // the attribute below holds its own reference
	f.SetAttr(obj, "authority", obj)
	citation, ok := env.Registry().ByName("Citation")
	require.True(t, ok)
	inst := env.wrap(obj, citation)
	snap := f.Snapshot()

	got, err := inst.Get("Authority")
	require.NoError(t, err)
	assert.Same(t, inst, got, "an operation returning the receiver must reuse its proxy")

	f.CheckBaseline(t, snap)
	runtime.KeepAlive(inst)
}

func TestDispatchProxyResult(t *testing.T) {
	f, env := newTestEnv(t)
	series := f.NewObject(map[string]cpy.Ref{
		"name": f.NewStr("Coastal maps"),
	})
	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"series": series,
	})

	got, err := inst.Get("Series")
	require.NoError(t, err)
	first, ok := got.(*Instance)
	require.True(t, ok)
	require.NotNil(t, first.Type())
	assert.Equal(t, "Series", first.Type().Name)

	name, err := first.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "Coastal maps", name)

	got, err = inst.Get("Series")
	require.NoError(t, err)
	second := got.(*Instance)
	assert.NotSame(t, first, second)
	assert.True(t, first.Equal(second), "proxies of one foreign object are equal")
	assert.Equal(t, first.Hash(), second.Hash())
	assert.Equal(t, 3, f.Refs(series), "attribute plus two live proxies")

	runtime.KeepAlive(inst)
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestCallInvokesCallable(t *testing.T) {
	f, env := newTestEnv(t)
	echo := f.NewCallable("echo", func(args []cpy.Ref) cpy.Ref {
		if len(args) != 1 {
			f.Raise("TypeError", "echo expected 1 argument")
			return 0
		}
		f.At(args[0]).Refs++
		return args[0]
	})
	holder := env.wrap(f.NewObject(map[string]cpy.Ref{"echo": echo}), nil)
	payloadRef := f.NewInt(42)
	payload := env.wrap(payloadRef, nil)

	got, err := holder.Call("echo", payload)
	require.NoError(t, err)
	back, ok := got.(*Instance)
	require.True(t, ok)
	assert.NotSame(t, payload, back)
	assert.True(t, back.Equal(payload))
	assert.Equal(t, 2, f.Refs(payloadRef), "two live proxies of the echoed object")

	got, err = holder.Call("echo", int64(9))
	require.NoError(t, err)
	assert.Equal(t, "9", got.(*Instance).String())

	runtime.KeepAlive(holder)
	runtime.KeepAlive(payload)
	runtime.KeepAlive(back)
}

func TestCallRejectsForeignBinding(t *testing.T) {
	f, env := newTestEnv(t)
	inst := env.wrap(f.NewObject(nil), nil)

	f2 := cpytest.New(t)
	env2, err := NewEnvironment(f2, cpy.Config{}, env.Registry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = env2.Close() })
	alien := env2.wrap(f2.NewInt(1), nil)

	before := f.Calls("GetAttr")
	_, err = inst.Call("compare", alien)
	require.ErrorIs(t, err, ErrForeignBinding)
	assert.Equal(t, before, f.Calls("GetAttr"), "no foreign call may be issued for a mismatched binding")

	runtime.KeepAlive(inst)
	runtime.KeepAlive(alien)
}

func TestInstanceString(t *testing.T) {
	f, env := newTestEnv(t)

	n := env.wrap(f.NewInt(7), nil)
	assert.Equal(t, "7", n.String())

	o := env.wrap(f.NewObject(nil), nil)
	assert.Contains(t, o.String(), "object at")

	runtime.KeepAlive(n)
	runtime.KeepAlive(o)
}

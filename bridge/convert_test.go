package bridge

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/cpy/cpytest"
	"github.com/metagis/pybridge/schema"
)

func vocabMember(f *cpytest.FakeAPI, value string) cpy.Ref {
	return f.NewObject(map[string]cpy.Ref{"value": f.NewStr(value)})
}

func TestVocabularyOpen(t *testing.T) {
	f, env := newTestEnv(t)
	form, ok := env.Registry().Vocabulary("CI_PresentationFormCode")
	require.True(t, ok)

	read := func(t *testing.T, value string) (any, error) {
		t.Helper()
		inst := wrapCitation(t, f, env, map[string]cpy.Ref{
			"presentation_form": vocabMember(f, value),
		})
		got, err := inst.Get("PresentationForm")
		runtime.KeepAlive(inst)
		return got, err
	}

	t.Run("declared spelling", func(t *testing.T) {
		got, err := read(t, "mapDigital")
		require.NoError(t, err)
		code, ok := got.(*schema.Code)
		require.True(t, ok)
		assert.Equal(t, "mapDigital", code.Name)
		assert.Same(t, form, code.Vocab)
		assert.Equal(t, "mapDigital", code.String())
	})

	t.Run("case fallback", func(t *testing.T) {
		got, err := read(t, "MAPHARDCOPY")
		require.NoError(t, err)
		code := got.(*schema.Code)
		assert.Equal(t, "mapHardcopy", code.Name, "the declared spelling wins")
	})

	t.Run("unlisted resolves to absence", func(t *testing.T) {
		got, err := read(t, "videoDigital")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("blank resolves to absence", func(t *testing.T) {
		got, err := read(t, "   ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestVocabularyClosed(t *testing.T) {
	f, env := newTestEnv(t)

	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"season": vocabMember(f, "summer"),
	})
	got, err := inst.Get("Season")
	require.NoError(t, err)
	assert.Equal(t, "summer", got.(*schema.Code).Name)

	other := wrapCitation(t, f, env, map[string]cpy.Ref{
		"season": vocabMember(f, "monsoon"),
	})
	_, err = other.Get("Season")
	require.Error(t, err, "an enumeration admits no unlisted value")
	assert.ErrorContains(t, err, `no value "monsoon" in SeasonCode`)
	assert.False(t, f.RaisedPending())

	runtime.KeepAlive(inst)
	runtime.KeepAlive(other)
}

func TestResolveSubtypeDirect(t *testing.T) {
	f, env := newTestEnv(t)
	base, ok := env.Registry().ByName("ReferenceSystem")
	require.True(t, ok)

	geo := f.NewType("opengis.referencing.crs", "GeographicCRS")
	obj := f.NewObjectOf(geo, nil)
	snap := f.Snapshot()

	got, err := env.ResolveSubtype(obj, base)
	require.NoError(t, err)
	assert.Equal(t, "SC_GeographicCRS", got.UML)

	f.CheckBaseline(t, snap)
	assert.Empty(t, f.Violations())
}

func TestResolveSubtypeWalksBases(t *testing.T) {
	f, env := newTestEnv(t)
	base, ok := env.Registry().ByName("ReferenceSystem")
	require.True(t, ok)

	// The reported class is outside the catalog; of its two parents only
	// the second one maps back.
	helper := f.NewType("user.app", "Helper")
	projected := f.NewType("opengis.referencing.crs", "ProjectedCRS")
	mine := f.NewType("user.app", "MyCRS", helper, projected)
	obj := f.NewObjectOf(mine, nil)
	snap := f.Snapshot()

	got, err := env.ResolveSubtype(obj, base)
	require.NoError(t, err)
	assert.Equal(t, "SC_ProjectedCRS", got.UML)

	f.CheckBaseline(t, snap)
}

func TestResolveSubtypeFallsBack(t *testing.T) {
	f, env := newTestEnv(t)
	base, ok := env.Registry().ByName("ReferenceSystem")
	require.True(t, ok)

	plain := f.NewType("user.app", "Plain")
	obj := f.NewObjectOf(plain, nil)
	snap := f.Snapshot()

	got, err := env.ResolveSubtype(obj, base)
	require.NoError(t, err)
	assert.Same(t, base, got, "nothing assignable falls back to the declared type")

	f.CheckBaseline(t, snap)
}

func TestResolveSubtypeDiamond(t *testing.T) {
	f, env := newTestEnv(t)
	base, ok := env.Registry().ByName("ReferenceSystem")
	require.True(t, ok)

	shared := f.NewType("user.app", "Mixin")
	f.At(shared).Refs++ // appears twice in the bases tuple below
	derived := f.NewType("user.app", "Derived", shared, shared)
	obj := f.NewObjectOf(derived, nil)
	snap := f.Snapshot()

	got, err := env.ResolveSubtype(obj, base)
	require.NoError(t, err)
	assert.Same(t, base, got)

	f.CheckBaseline(t, snap)
}

func TestInstanceAs(t *testing.T) {
	f, env := newTestEnv(t)
	base, ok := env.Registry().ByName("ReferenceSystem")
	require.True(t, ok)

	geo := f.NewType("opengis.referencing.crs", "GeographicCRS")
	ref := f.NewObjectOf(geo, map[string]cpy.Ref{"name": f.NewStr("WGS 84")})
	raw := env.wrap(ref, nil)

	typed, err := raw.As(base)
	require.NoError(t, err)
	require.NotNil(t, typed.Type())
	assert.Equal(t, "SC_GeographicCRS", typed.Type().UML)
	assert.True(t, typed.Equal(raw))
	assert.Equal(t, 2, f.Refs(ref), "each proxy holds its own reference")

	name, err := typed.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "WGS 84", name)

	runtime.KeepAlive(raw)
	runtime.KeepAlive(typed)
}

func TestDispatchResolvesSubtype(t *testing.T) {
	f, env := newTestEnv(t)
	geo := f.NewType("opengis.referencing.crs", "GeographicCRS")
	system := f.NewObjectOf(geo, map[string]cpy.Ref{
		"name": f.NewStr("WGS 84"),
	})
	inst := wrapCitation(t, f, env, map[string]cpy.Ref{
		"system": system,
	})

	got, err := inst.Get("System")
	require.NoError(t, err)
	crs, ok := got.(*Instance)
	require.True(t, ok)
	require.NotNil(t, crs.Type())
	assert.Equal(t, "SC_GeographicCRS", crs.Type().UML)

	// Name is declared by the base type and inherited by the resolved
	// subtype.
	name, err := crs.Get("Name")
	require.NoError(t, err)
	assert.Equal(t, "WGS 84", name)

	runtime.KeepAlive(inst)
	runtime.KeepAlive(crs)
}

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metagis/pybridge/cpy"
	"github.com/metagis/pybridge/cpy/cpytest"
	"github.com/metagis/pybridge/schema"
)

// testCatalog is a small catalog exercising every result kind. The
// referencing branch gives the subtype walk a class hierarchy to
// resolve against.
const testCatalog = `
prefix: "opengis."
interfaces:
  - uml: CI_Citation
    module: metadata.citation
    operations:
      - {name: Title, returns: str}
      - {name: PageCount, uml: numPages, returns: int}
      - {name: Scale, returns: float}
      - {name: Published, returns: bool}
      - {name: Authority, returns: CI_Citation}
      - {name: Series, returns: CI_Series}
      - {name: System, returns: RS_ReferenceSystem}
      - {name: PresentationForm, returns: CI_PresentationFormCode}
      - {name: Season, returns: MD_SeasonCode}
      - {name: AlternateTitles, returns: "[str]"}
      - {name: Dates, returns: "[CI_Date]"}
  - uml: CI_Series
    module: metadata.citation
    operations:
      - {name: Name, returns: str}
      - {name: Volumes, returns: "[int]"}
  - uml: CI_Date
    module: metadata.citation
    operations:
      - {name: Year, returns: int}
  - uml: RS_ReferenceSystem
    module: referencing
    operations:
      - {name: Name, returns: str}
  - uml: SC_CRS
    module: referencing.crs
    extends: [RS_ReferenceSystem]
  - uml: SC_GeographicCRS
    module: referencing.crs
    extends: [SC_CRS]
  - uml: SC_ProjectedCRS
    module: referencing.crs
    extends: [SC_CRS]
vocabularies:
  - uml: CI_PresentationFormCode
    open: true
    values: [mapDigital, mapHardcopy, documentDigital]
  - uml: MD_SeasonCode
    values: [spring, summer, autumn, winter]
`

const testSubclassed = "ReferenceSystem\nCRS\n"

func newTestEnv(t *testing.T) (*cpytest.FakeAPI, *Environment) {
	t.Helper()
	reg, err := schema.LoadFrom([]byte(testCatalog), []byte(testSubclassed))
	require.NoError(t, err)
	f := cpytest.New(t)
	env, err := NewEnvironment(f, cpy.Config{}, reg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return f, env
}

func TestEnvironmentLifecycle(t *testing.T) {
	reg, err := schema.LoadFrom([]byte(testCatalog), []byte(testSubclassed))
	require.NoError(t, err)
	f := cpytest.New(t)
	snap := f.Snapshot()

	env, err := NewEnvironment(f, cpy.Config{}, reg)
	require.NoError(t, err)

	v, err := env.Version()
	require.NoError(t, err)
	assert.Contains(t, v, "3.14.0")
	assert.Same(t, reg, env.Registry())

	require.NoError(t, env.Close())
	assert.True(t, f.Finalized(), "closing must finalize the interpreter it started")
	assert.True(t, f.Closed())

	// A second Close must not finalize again.
	require.NoError(t, env.Close())
	assert.Equal(t, 1, f.Calls("Finalize"))

	f.CheckBaseline(t, snap)
	assert.Empty(t, f.Violations())
}

func TestEnvironmentAttachedDoesNotFinalize(t *testing.T) {
	reg, err := schema.LoadFrom([]byte(testCatalog), []byte(testSubclassed))
	require.NoError(t, err)
	f := cpytest.New(t)
	f.SetInitialized(true)

	env, err := NewEnvironment(f, cpy.Config{}, reg)
	require.NoError(t, err)
	require.NoError(t, env.Close())

	assert.False(t, f.Finalized(), "an interpreter this environment did not start must stay up")
	assert.True(t, f.Closed())
}

func TestEnvironmentInitFailure(t *testing.T) {
	reg, err := schema.LoadFrom([]byte(testCatalog), []byte(testSubclassed))
	require.NoError(t, err)
	f := cpytest.New(t)
	f.FailInit = "fatal interpreter fault"

	_, err = NewEnvironment(f, cpy.Config{}, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal interpreter fault")
	assert.False(t, f.Closed(), "the entry-point table stays with the caller on error")
}

func TestEnvironmentImport(t *testing.T) {
	f, env := newTestEnv(t)
	f.NewModule("opengis.metadata", map[string]cpy.Ref{
		"version": f.NewStr("4.0"),
	})

	mod, err := env.Import("opengis.metadata")
	require.NoError(t, err)
	assert.Nil(t, mod.Type(), "modules are untyped proxies")

	_, err = env.Import("opengis.nowhere")
	require.Error(t, err)
	var rerr *cpy.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "ModuleNotFoundError", rerr.Type)
}

package di

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMemoizesBuilds(t *testing.T) {
	r := New()
	builds := 0
	r.Provide("counter", func(Resolver) (any, error) {
		builds++
		return builds, nil
	})

	first, err := r.Resolve("counter")
	require.NoError(t, err)
	second, err := r.Resolve("counter")
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestRegistryResolvesNestedDependencies(t *testing.T) {
	r := New()
	r.Provide("prefix", func(Resolver) (any, error) {
		return "credit", nil
	})
	r.Provide("name", func(deps Resolver) (any, error) {
		prefix, err := deps.Resolve("prefix")
		if err != nil {
			return nil, err
		}
		return prefix.(string) + "d", nil
	})

	svc, err := r.Resolve("name")
	require.NoError(t, err)
	assert.Equal(t, "creditd", svc)
}

func TestRegistryUnknownService(t *testing.T) {
	_, err := New().Resolve("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown service "nope"`)
}

func TestRegistryBuilderError(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	r.Provide("broken", func(Resolver) (any, error) {
		return nil, boom
	})

	_, err := r.Resolve("broken")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	// A failed build is not memoized; a replacement builder can succeed.
	r.Provide("broken", func(Resolver) (any, error) { return "ok", nil })
	svc, err := r.Resolve("broken")
	require.NoError(t, err)
	assert.Equal(t, "ok", svc)
}

func TestRegistryDetectsDependencyCycle(t *testing.T) {
	r := New()
	r.Provide("a", func(deps Resolver) (any, error) {
		return deps.Resolve("b")
	})
	r.Provide("b", func(deps Resolver) (any, error) {
		return deps.Resolve("a")
	})

	_, err := r.Resolve("a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency cycle")
}

package blackboard

import (
	"sync"
	"testing"

	"github.com/joeycumines/conduct/internal/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ condition.Queries = (*Blackboard)(nil)

func TestBlackboard_Basics(t *testing.T) {
	t.Parallel()

	var b Blackboard
	assert.Nil(t, b.Get("missing"))
	assert.False(t, b.Has("missing"))
	assert.Zero(t, b.Len())

	b.Set("busy", true)
	assert.Equal(t, true, b.Get("busy"))
	assert.True(t, b.Has("busy"))
	v1 := b.Version()

	b.Delete("busy")
	assert.False(t, b.Has("busy"))
	assert.Greater(t, b.Version(), v1)

	v2 := b.Version()
	b.Delete("busy")
	assert.Equal(t, v2, b.Version())
}

func TestBlackboard_TypedViews(t *testing.T) {
	t.Parallel()

	b := New(map[string]any{
		"need.energy":  "low",
		"mood.happy":   0.25,
		"objects.cube": float64(3),
	})
	assert.Equal(t, "low", b.NeedBracket("energy"))
	assert.Equal(t, "", b.NeedBracket("play"))
	assert.InDelta(t, 0.25, b.Mood("happy"), 1e-9)
	assert.Equal(t, 3, b.ObjectCount("cube"))
	assert.Equal(t, 3, b.Get("objects.cube"), "whole floats are stored as int")

	b.SetNeedBracket("play", "critical")
	b.SetMood("happy", 1)
	b.SetObjectCount("face", 1)
	assert.Equal(t, "critical", b.NeedBracket("play"))
	assert.InDelta(t, 1.0, b.Mood("happy"), 1e-9)
	assert.Equal(t, 1, b.ObjectCount("face"))
	assert.Equal(t, []string{"mood.happy", "need.energy", "need.play", "objects.cube", "objects.face"}, b.Keys())
}

func TestBlackboard_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	b := New(map[string]any{"a": 1})
	snap := b.Snapshot()
	snap["a"] = 2
	snap["b"] = 3
	assert.Equal(t, 1, b.Get("a"))
	assert.False(t, b.Has("b"))
}

func TestBlackboard_WorldExpression(t *testing.T) {
	t.Parallel()

	b := New(map[string]any{"need.energy": "low", "objects.cube": 2, "busy": false})
	e := condition.MustCompile(condition.World, `need("energy") == "low" && count("cube") > 1 && !busy`)
	ok, err := e.Eval(condition.WorldEnv(b, 1, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlackboard_Concurrent(t *testing.T) {
	t.Parallel()

	var b Blackboard
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				b.SetObjectCount("cube", i*j)
				_ = b.ObjectCount("cube")
				_ = b.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, b.Len())
}

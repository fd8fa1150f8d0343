package condition

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorld struct {
	needs   map[string]string
	moods   map[string]float64
	objects map[string]int
	vars    map[string]any
}

func (w fakeWorld) NeedBracket(need string) string { return w.needs[need] }
func (w fakeWorld) Mood(dim string) float64        { return w.moods[dim] }
func (w fakeWorld) ObjectCount(kind string) int    { return w.objects[kind] }
func (w fakeWorld) Variable(key string) (any, bool) {
	v, ok := w.vars[key]
	return v, ok
}
func (w fakeWorld) Snapshot() map[string]any {
	out := make(map[string]any, len(w.vars))
	for k, v := range w.vars {
		out[k] = v
	}
	return out
}

func TestWorldExpression(t *testing.T) {
	t.Parallel()

	w := fakeWorld{
		needs:   map[string]string{"energy": "low"},
		moods:   map[string]float64{"happy": 0.7},
		objects: map[string]int{"cube": 2},
		vars:    map[string]any{"busy": false, "charger.seen": true},
	}
	env := WorldEnv(w, 12, 1500*time.Millisecond)

	for _, tc := range []struct {
		src  string
		want bool
	}{
		{`need("energy") == "low"`, true},
		{`mood("happy") > 0.5 && count("cube") >= 2`, true},
		{`!busy`, true},
		{`get("charger.seen") == true`, true},
		{`tick == 12 && now > 1.0`, true},
		{`count("ball") > 0`, false},
		{`undefinedThing == nil`, true},
	} {
		t.Run(tc.src, func(t *testing.T) {
			e, err := Compile(World, tc.src)
			require.NoError(t, err)
			got, err := e.Eval(env)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValueExpression(t *testing.T) {
	t.Parallel()

	e := MustCompile(Value, "value > 3 && value < 10")
	assert.Equal(t, Value, e.Kind())
	assert.Equal(t, "value > 3 && value < 10", e.Source())

	ok, err := e.Match(5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.Match(11)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := Compile(World, "")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Compile(World, "1 +")
	assert.Error(t, err)

	_, err = Compile(Value, `"not a bool"`)
	assert.Error(t, err, "AsBool rejects non-boolean expressions at compile time")
}

func TestCompileUsesSharedCache(t *testing.T) {
	t.Parallel()

	src := fmt.Sprintf("value == %d", time.Now().UnixNano())
	_, _, missesBefore := Programs().Stats()
	_, err := Compile(Value, src)
	require.NoError(t, err)
	_, hitsMid, missesMid := Programs().Stats()
	assert.Greater(t, missesMid, missesBefore)

	_, err = Compile(Value, src)
	require.NoError(t, err)
	_, hitsAfter, _ := Programs().Stats()
	assert.Greater(t, hitsAfter, hitsMid)
}

func TestCache_LRU(t *testing.T) {
	t.Parallel()

	c := NewCache(2)
	a := MustCompile(Value, "value == 1").program
	b := MustCompile(Value, "value == 2").program
	d := MustCompile(Value, "value == 3").program

	c.Put("a", a)
	c.Put("b", b)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("d", d)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Resize(1)
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Contains(t, c.String(), "size=0")
}

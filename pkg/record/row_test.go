package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_PreservesInsertionOrder(t *testing.T) {
	r := New(3)
	r.Set("zeta", 1)
	r.Set("alpha", "a")
	r.Set("mid", Null)
	r.Set("zeta", 2)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, r.Keys())
	assert.Equal(t, []any{2, "a", nil}, r.Values())
	assert.Equal(t, 3, r.Len())
}

func TestRow_IsNull(t *testing.T) {
	r := FromPairs([]string{"a", "b"}, []any{"x", Null})

	assert.False(t, r.IsNull("a"))
	assert.True(t, r.IsNull("b"))
	assert.True(t, r.IsNull("missing"))
}

func TestFromPairs_ShortValues(t *testing.T) {
	r := FromPairs([]string{"a", "b"}, []any{"x"})

	v, ok := r.Get("b")
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestRow_MarshalJSON(t *testing.T) {
	r := New(4)
	r.Set("name", "Smith")
	r.Set("count", int64(3))
	r.Set("missing", Null)
	r.Set("when", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	b, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Smith","count":3,"missing":null,"when":"2024-03-01T00:00:00Z"}`, string(b))
}

func TestRow_ZeroValueSet(t *testing.T) {
	var r Row
	r.Set("a", 1)
	assert.Equal(t, map[string]any{"a": 1}, r.Map())
}

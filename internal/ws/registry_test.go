package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAddRemoveLookup(t *testing.T) {
	r := NewRegistry()
	a := &Conn{cpId: "CP-1"}
	b := &Conn{cpId: "CP-1"}

	r.Add("CP-1", a)
	r.Add("CP-1", b)
	assert.Equal(t, 2, r.Count("CP-1"))
	assert.Len(t, r.Lookup("CP-1"), 2)

	assert.Equal(t, 1, r.Remove("CP-1", a))
	assert.Equal(t, 0, r.Remove("CP-1", b))
	assert.Empty(t, r.Lookup("CP-1"))

	// removing an unknown connection is a no-op
	assert.Equal(t, 0, r.Remove("CP-1", a))
	assert.Equal(t, 0, r.Remove("CP-9", a))
}

func TestRegistryInstancesAreIsolated(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()
	c := &Conn{cpId: "CP-1"}

	r1.Add("CP-1", c)
	assert.Equal(t, 1, r1.Count("CP-1"))
	assert.Equal(t, 0, r2.Count("CP-1"))
}

package types

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestSet(t *testing.T) {
	// Sets are created empty.
	s := MakeSet[int](10)
	assert.Len(t, s, 0)

	// Check inserting and recovery.
	s.Insert(3, 7)
	assert.Len(t, s, 2)
	assert.True(t, s.Has(3))
	assert.True(t, s.Has(7))
	assert.False(t, s.Has(5))

	s2 := MakeSet[int]()
	s2.Insert(7, 3)
	assert.True(t, s.Equal(s2))
	s2.Insert(5)
	assert.False(t, s.Equal(s2))

	delete(s, 7)
	assert.Len(t, s, 1)
	assert.True(t, s.Has(3))
	assert.False(t, s.Has(7))
	assert.False(t, s.Equal(s2))

	s3 := MakeSet[int]()
	s3.Insert(-3)
	assert.False(t, s.Equal(s3))
}

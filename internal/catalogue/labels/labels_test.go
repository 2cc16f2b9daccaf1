package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedLabelsAreNegative(t *testing.T) {
	for _, l := range []int64{Trash, Noise, Alien, Unclassified} {
		assert.False(t, IsCluster(l), "label %d", l)
	}
	assert.True(t, IsCluster(0))
	assert.True(t, IsCluster(12))
}

func TestName(t *testing.T) {
	tests := []struct {
		label int64
		want  string
	}{
		{Trash, "trash"},
		{Noise, "noise"},
		{Alien, "alien"},
		{Unclassified, "unclassified"},
		{3, "cluster"},
		{-5, "reserved"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Name(tt.label))
	}
}

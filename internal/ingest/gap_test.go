package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateGap(t *testing.T) {
	tests := []struct {
		name     string
		prev     uint32
		observed uint32
		want     uint32
	}{
		{"successor", 5, 6, 0},
		{"duplicate", 5, 5, 0},
		{"skip three", 5, 9, 3},
		{"decrease", 9, 3, 0},
		{"first sighting from zero", 0, 4, 3},
		{"first sighting seq one", 0, 1, 0},
		{"first sighting seq zero", 0, 0, 0},
		{"prev at max wraps successor to zero", math.MaxUint32, 0, 0},
		{"prev at max", math.MaxUint32, 3, 3},
		{"large jump", 0, math.MaxUint32, math.MaxUint32 - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateGap(tt.prev, tt.observed))
		})
	}
}

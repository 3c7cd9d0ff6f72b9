package detect

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestAggregateIncludesZeroCounts(t *testing.T) {
	got := Aggregate(nil, []string{"car", "person"})

	if diff := cmp.Diff(PresenceCount{"car": 0, "person": 0}, got); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateCounts(t *testing.T) {
	filtered := []Labeled{
		{Class: "car", Tracked: true},
		{Class: "person", Tracked: true},
		{Class: "car", Tracked: true},
		{Class: "dog", Tracked: false},
	}

	got := Aggregate(filtered, []string{"car", "person"})

	if diff := cmp.Diff(PresenceCount{"car": 2, "person": 1}, got); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestPresenceCountMissingKey(t *testing.T) {
	var p PresenceCount
	assert.Equal(t, 0, p.Count("car"))
	assert.False(t, p.Present("car"))
}

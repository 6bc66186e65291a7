package model

import "testing"

func TestDistance(t *testing.T) {
	if d := Distance(Vec3{}, Vec3{X: 3, Y: 4}); d != 5 {
		t.Fatalf("distance: got %v want 5", d)
	}
	if d := Distance(Vec3{X: 1, Y: 1, Z: 1}, Vec3{X: 1, Y: 1, Z: 1}); d != 0 {
		t.Fatalf("distance to self: got %v", d)
	}
}

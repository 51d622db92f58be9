package opt

import (
	"math"
	"testing"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	minimizer := NewMayfly(100, 20, 42)

	best, cost, err := minimizer.Minimize(sphere, -10, 10, 3)
	if err != nil {
		t.Fatalf("Minimize failed: %v", err)
	}
	if len(best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	_, cost1, err := NewMayfly(50, 20, 123).Minimize(sphere, -5, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	_, cost2, err := NewMayfly(50, 20, 123).Minimize(sphere, -5, 5, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestNewMayflyRaisesSmallPopulation(t *testing.T) {
	m := NewMayfly(10, 5, 1)
	if m.popSize != minMayflyPop {
		t.Errorf("Expected population %d, got %d", minMayflyPop, m.popSize)
	}
}

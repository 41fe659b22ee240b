package quorum

import (
	"math/rand"
	"testing"
)

func TestActualHeightsRange(t *testing.T) {
	tests := []struct {
		name    string
		heights []int
		epsilon int
		want    *Range
	}{
		{"empty", nil, 10, nil},
		{"single", []int{42}, 5, &Range{42, 46}},
		{"tie keeps lowest anchor", []int{100, 101, 109, 110, 111}, 10, &Range{100, 109}},
		{"unsorted input", []int{111, 109, 100, 110, 101}, 10, &Range{100, 109}},
		{"majority beats stale minority", []int{10, 500, 501, 502, 11}, 3, &Range{500, 502}},
		{"duplicates count", []int{7, 7, 7, 20, 21}, 2, &Range{7, 8}},
		{"epsilon one means exact match", []int{5, 6, 6, 7}, 1, &Range{6, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ActualHeightsRange(tt.heights, tt.epsilon)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("ActualHeightsRange(%v, %d) = %v, want %v", tt.heights, tt.epsilon, got, tt.want)
			}
		})
	}
}

func TestActualHeightsRange_DoesNotMutateInput(t *testing.T) {
	in := []int{3, 1, 2}
	ActualHeightsRange(in, 2)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("input was reordered: %v", in)
	}
}

// Width is always epsilon and no anchored window covers more heights.
func TestActualHeightsRange_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(12)
		eps := 1 + rng.Intn(8)
		heights := make([]int, n)
		for i := range heights {
			heights[i] = 1000 + rng.Intn(30)
		}

		got := ActualHeightsRange(heights, eps)
		if got == nil {
			t.Fatalf("nil range for %v", heights)
		}
		if got.Upper-got.Lower+1 != eps {
			t.Fatalf("width %d, want %d", got.Upper-got.Lower+1, eps)
		}

		count := func(r Range) int {
			c := 0
			for _, h := range heights {
				if r.Contains(h) {
					c++
				}
			}
			return c
		}

		gotCount := count(*got)
		for _, h := range heights {
			alt := Range{h, h + eps - 1}
			c := count(alt)
			if c > gotCount {
				t.Fatalf("window %v covers %d > %d for %v", alt, c, gotCount, heights)
			}
			if c == gotCount && h < got.Lower {
				t.Fatalf("tie at lower anchor %d not preferred over %v for %v", h, got, heights)
			}
		}
	}
}

package vips

import "testing"

func TestFitInsideEnlargesWithinBounds(t *testing.T) {
	cases := []struct {
		name           string
		srcW, srcH     int
		boundW, boundH int
		wantW, wantH   int
	}{
		{"shrinks to width bound", 4000, 2000, 1000, 0, 1000, 500},
		{"shrinks to height bound", 2000, 4000, 0, 1000, 500, 1000},
		{"enlarges past source when bound is larger", 200, 100, 4000, 4000, 4000, 2000},
		{"smaller bound on either axis dominates", 1000, 500, 800, 10000, 800, 400},
		{"unconstrained axis keeps source size", 1000, 1000, 0, 0, 1000, 1000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotW, gotH := fitInside(tc.srcW, tc.srcH, tc.boundW, tc.boundH)
			if gotW != tc.wantW || gotH != tc.wantH {
				t.Fatalf("fitInside(%d,%d,%d,%d) = (%d,%d), want (%d,%d)",
					tc.srcW, tc.srcH, tc.boundW, tc.boundH, gotW, gotH, tc.wantW, tc.wantH)
			}
		})
	}
}

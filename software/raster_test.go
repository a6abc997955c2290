package software

import "testing"

func TestRasterizeCoversEachPixelOnce(t *testing.T) {
	sizes := [][2]int{{1, 1}, {2, 1}, {3, 2}, {8, 8}, {17, 5}, {5, 17}, {64, 33}, {100, 100}}
	for _, sz := range sizes {
		w, h := sz[0], sz[1]
		count := make([]int, w*h)
		rasterize(fullscreenQuad, w, h, 0, h, func(x, y int) {
			count[y*w+x]++
		})
		for i, c := range count {
			if c != 1 {
				t.Errorf("%dx%d: pixel (%d,%d) shaded %d times", w, h, i%w, i/w, c)
			}
		}
	}
}

func TestRasterizeBands(t *testing.T) {
	const w, h = 13, 11
	count := make([]int, w*h)
	for y0 := 0; y0 < h; y0 += 4 {
		rasterize(fullscreenQuad, w, h, y0, min(h, y0+4), func(x, y int) {
			if y < y0 || y >= y0+4 {
				t.Fatalf("row %d shaded outside band starting at %d", y, y0)
			}
			count[y*w+x]++
		})
	}
	for i, c := range count {
		if c != 1 {
			t.Errorf("pixel %d shaded %d times", i, c)
		}
	}
}

package software

import (
	"github.com/chewxy/math32"
	"github.com/soypat/geometry/ms2"
)

// fullscreenQuad is the triangle list drawn by fragment kernels, in normalized device coordinates.
var fullscreenQuad = []ms2.Vec{
	{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1},
	{X: -1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1},
}

// rasterize calls frag for the pixels of rows [y0,y1) of a w by h target
// whose centers are covered by the triangle list verts. A pixel center on an
// edge shared by two triangles belongs to exactly one of them under the
// top-left fill rule.
func rasterize(verts []ms2.Vec, w, h, y0, y1 int, frag func(x, y int)) {
	for i := 0; i+2 < len(verts); i += 3 {
		a := toWindow(verts[i], w, h)
		b := toWindow(verts[i+1], w, h)
		c := toWindow(verts[i+2], w, h)
		area := ms2.Cross(ms2.Sub(b, a), ms2.Sub(c, a))
		if area == 0 {
			continue
		} else if area < 0 {
			b, c = c, b
		}
		minX := max(0, int(math32.Floor(min(a.X, b.X, c.X))))
		maxX := min(w-1, int(math32.Floor(max(a.X, b.X, c.X))))
		minY := max(y0, int(math32.Floor(min(a.Y, b.Y, c.Y))))
		maxY := min(y1-1, int(math32.Floor(max(a.Y, b.Y, c.Y))))
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				p := ms2.Vec{X: float32(x) + 0.5, Y: float32(y) + 0.5}
				if covers(a, b, p) && covers(b, c, p) && covers(c, a, p) {
					frag(x, y)
				}
			}
		}
	}
}

// toWindow maps normalized device coordinates to framebuffer coordinates with y down.
func toWindow(v ms2.Vec, w, h int) ms2.Vec {
	return ms2.Vec{
		X: (v.X + 1) * 0.5 * float32(w),
		Y: (1 - v.Y) * 0.5 * float32(h),
	}
}

// covers reports whether p lies on the inner side of edge a->b of a
// positively wound triangle. Points on the edge are covered for top and left edges.
func covers(a, b, p ms2.Vec) bool {
	d := ms2.Sub(b, a)
	e := ms2.Cross(d, ms2.Sub(p, a))
	if e != 0 {
		return e > 0
	}
	top := d.Y == 0 && d.X > 0
	left := d.Y < 0
	return top || left
}

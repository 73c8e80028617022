package detection

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"

	"paperscope/tracking"
)

// Contour filter bounds.
const (
	MinContourArea = 300
	MaxContourArea = 90000
	MinAspect      = 0.1
	MaxAspect      = 10
)

// acceptContour reports whether a contour with n points, the given area and
// min-area-rect size is a plausible candidate.
func acceptContour(n int, area, w, h float64) bool {
	if n < 3 {
		return false
	}
	if area < MinContourArea || area > MaxContourArea {
		return false
	}
	if w <= 0 || h <= 0 {
		return false
	}
	aspect := w / h
	return aspect >= MinAspect && aspect <= MaxAspect
}

func validContour(pv gocv.PointVector) bool {
	if pv.Size() < 3 {
		return false
	}
	rr := gocv.MinAreaRect(pv)
	return acceptContour(pv.Size(), gocv.ContourArea(pv), float64(rr.Width), float64(rr.Height))
}

// outlineFunc derives the shape specific outline of a simplified contour.
type outlineFunc func(contour gocv.PointVector) []image.Point

var outlines = map[tracking.ShapeType]outlineFunc{
	tracking.ShapeRectangle: rectangleOutline,
	tracking.ShapeCircle:    circleOutline,
	tracking.ShapeTriangle:  triangleOutline,
	tracking.ShapeCross:     crossOutline,
	tracking.ShapeOrganic:   organicOutline,
	tracking.ShapeStreet:    streetOutline,
}

// Outline returns the outline for shape, falling back to the raw contour
// for unknown shapes.
func Outline(shape tracking.ShapeType, contour gocv.PointVector) []image.Point {
	fn, ok := outlines[shape]
	if !ok {
		return contour.ToPoints()
	}
	return fn(contour)
}

func rectangleOutline(contour gocv.PointVector) []image.Point {
	rr := gocv.MinAreaRect(contour)
	return append([]image.Point(nil), rr.Points...)
}

func circleOutline(contour gocv.PointVector) []image.Point {
	if contour.Size() < 5 {
		r := tracking.BoundingRect(contour.ToPoints())
		c := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
		return ellipsePoly(c, float64(r.Dx())/2, float64(r.Dy())/2, 0, 20)
	}
	rr := gocv.FitEllipse(contour)
	return ellipsePoly(rr.Center, float64(rr.Width)/2, float64(rr.Height)/2, rr.Angle, 20)
}

func triangleOutline(contour gocv.PointVector) []image.Point {
	return minEnclosingTriangle(contour.ToPoints())
}

func crossOutline(contour gocv.PointVector) []image.Point {
	rr := gocv.MinAreaRect(contour)
	return []image.Point{rr.Center}
}

func organicOutline(contour gocv.PointVector) []image.Point {
	return approx(contour, 0.002*gocv.ArcLength(contour, true))
}

func streetOutline(contour gocv.PointVector) []image.Point {
	return approx(contour, 1)
}

func approx(contour gocv.PointVector, epsilon float64) []image.Point {
	pv := gocv.ApproxPolyDP(contour, epsilon, true)
	defer pv.Close()
	return pv.ToPoints()
}

// ellipsePoly samples an ellipse with semi axes a, b rotated by angle
// degrees every step degrees, closing the loop at 360.
func ellipsePoly(center image.Point, a, b, angle float64, step int) []image.Point {
	if step <= 0 {
		step = 20
	}
	sinA, cosA := math.Sincos(angle * math.Pi / 180)
	var pts []image.Point
	for deg := 0; deg <= 360; deg += step {
		sinT, cosT := math.Sincos(float64(deg) * math.Pi / 180)
		x := float64(center.X) + a*cosT*cosA - b*sinT*sinA
		y := float64(center.Y) + a*cosT*sinA + b*sinT*cosA
		p := image.Pt(int(math.Round(x)), int(math.Round(y)))
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	return pts
}

func cross(o, a, b image.Point) int {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// convexHull returns the hull in counter-clockwise order (x right, y up)
// without repeating the first point.
func convexHull(points []image.Point) []image.Point {
	pts := append([]image.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	uniq := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq
	if len(pts) < 3 {
		return pts
	}

	hull := make([]image.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

type line struct {
	a, b, c float64 // a*x + b*y = c
}

func edgeLine(p, q image.Point) line {
	a := float64(q.Y - p.Y)
	b := float64(p.X - q.X)
	return line{a: a, b: b, c: a*float64(p.X) + b*float64(p.Y)}
}

func intersect(l, m line) (float64, float64, bool) {
	det := l.a*m.b - m.a*l.b
	if math.Abs(det) < 1e-9 {
		return 0, 0, false
	}
	return (l.c*m.b - m.c*l.b) / det, (l.a*m.c - m.a*l.c) / det, true
}

type vec struct{ x, y float64 }

func triangleArea(t [3]vec) float64 {
	return math.Abs((t[1].x-t[0].x)*(t[2].y-t[0].y)-(t[2].x-t[0].x)*(t[1].y-t[0].y)) / 2
}

func contains(t [3]vec, p image.Point, eps float64) bool {
	px, py := float64(p.X), float64(p.Y)
	sign := 0.0
	for i := 0; i < 3; i++ {
		a, b := t[i], t[(i+1)%3]
		c := (b.x-a.x)*(py-a.y) - (b.y-a.y)*(px-a.x)
		if math.Abs(c) <= eps {
			continue
		}
		if sign == 0 {
			sign = c
		} else if sign*c < 0 {
			return false
		}
	}
	return true
}

// minEnclosingTriangle returns the smallest triangle whose sides lie on
// hull edges and which encloses every point. Degenerate input falls back
// to a triangle around the bounding box.
func minEnclosingTriangle(points []image.Point) []image.Point {
	hull := convexHull(points)
	if len(hull) < 3 {
		return boxTriangle(tracking.BoundingRect(points))
	}

	lines := make([]line, len(hull))
	for i := range hull {
		lines[i] = edgeLine(hull[i], hull[(i+1)%len(hull)])
	}

	best := math.Inf(1)
	var bestTri [3]vec
	for i := 0; i < len(lines); i++ {
		for j := i + 1; j < len(lines); j++ {
			for k := j + 1; k < len(lines); k++ {
				tri, ok := lineTriangle(lines[i], lines[j], lines[k])
				if !ok {
					continue
				}
				area := triangleArea(tri)
				if area <= 0 || area >= best {
					continue
				}
				eps := 1e-6 * (1 + area)
				inside := true
				for _, p := range hull {
					if !contains(tri, p, eps) {
						inside = false
						break
					}
				}
				if inside {
					best, bestTri = area, tri
				}
			}
		}
	}
	if math.IsInf(best, 1) {
		return boxTriangle(tracking.BoundingRect(points))
	}

	out := make([]image.Point, 3)
	for i, v := range bestTri {
		out[i] = image.Pt(int(math.Round(v.x)), int(math.Round(v.y)))
	}
	return out
}

func lineTriangle(l, m, n line) ([3]vec, bool) {
	var tri [3]vec
	pairs := [3][2]line{{l, m}, {m, n}, {n, l}}
	for i, pr := range pairs {
		x, y, ok := intersect(pr[0], pr[1])
		if !ok {
			return tri, false
		}
		tri[i] = vec{x, y}
	}
	return tri, true
}

// boxTriangle encloses r with its base on the bottom edge.
func boxTriangle(r image.Rectangle) []image.Point {
	w, h := r.Dx(), r.Dy()
	return []image.Point{
		image.Pt(r.Min.X-w/2, r.Max.Y),
		image.Pt(r.Max.X+w/2, r.Max.Y),
		image.Pt((r.Min.X+r.Max.X)/2, r.Min.Y-h),
	}
}

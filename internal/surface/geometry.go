package surface

import "math"

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Rect is a placed box relative to its container.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Fit scales content to the largest size that fits box while keeping its aspect ratio, centred.
// Unknown content dimensions scale by 1.
func Fit(content, box Size) Rect {
	if content.Empty() {
		return Rect{Width: box.Width, Height: box.Height}
	}
	scale := math.Min(box.Width/content.Width, box.Height/content.Height)
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	w := content.Width * scale
	h := content.Height * scale
	return Rect{
		X:      (box.Width - w) / 2,
		Y:      (box.Height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// CornerControl places a control of the given size in the top-right corner of r with margin.
func CornerControl(r Rect, size Size, margin float64) Rect {
	return Rect{
		X:      r.X + r.Width - size.Width - margin,
		Y:      r.Y + margin,
		Width:  size.Width,
		Height: size.Height,
	}
}

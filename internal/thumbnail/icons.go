package thumbnail

import (
	"image"
	"image/color"
	"image/draw"

	"lazythumb/internal/item"

	"github.com/disintegration/imaging"
)

// IconKind selects one of the built-in placeholder icons.
type IconKind string

const (
	IconPending  IconKind = "pending"
	IconFolder   IconKind = "folder"
	IconImage    IconKind = "image"
	IconAudio    IconKind = "audio"
	IconVideo    IconKind = "video"
	IconDocument IconKind = "document"
)

var (
	colorFolder    = color.NRGBA{R: 0xF2, G: 0xB1, B: 0x3C, A: 0xFF}
	colorFolderTab = color.NRGBA{R: 0xD9, G: 0x96, B: 0x21, A: 0xFF}
	colorPage      = color.NRGBA{R: 0xF5, G: 0xF5, B: 0xF5, A: 0xFF}
	colorInk       = color.NRGBA{R: 0x60, G: 0x60, B: 0x68, A: 0xFF}
	colorSky       = color.NRGBA{R: 0x7F, G: 0xB8, B: 0xE8, A: 0xFF}
	colorHill      = color.NRGBA{R: 0x4C, G: 0x9A, B: 0x52, A: 0xFF}
	colorSun       = color.NRGBA{R: 0xFF, G: 0xD5, B: 0x4F, A: 0xFF}
	colorNote      = color.NRGBA{R: 0x8E, G: 0x5C, B: 0xC8, A: 0xFF}
	colorFilm      = color.NRGBA{R: 0x30, G: 0x30, B: 0x38, A: 0xFF}
	colorPlay      = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	colorCloud     = color.NRGBA{R: 0xB0, G: 0xC4, B: 0xD8, A: 0xFF}
	colorArrow     = color.NRGBA{R: 0x2D, G: 0x6C, B: 0xB4, A: 0xFF}
)

// IconFor returns the fallback icon kind for a media kind.
func IconFor(kind item.MediaKind) IconKind {
	switch kind {
	case item.MediaDirectory:
		return IconFolder
	case item.MediaImage:
		return IconImage
	case item.MediaAudio:
		return IconAudio
	case item.MediaVideo:
		return IconVideo
	default:
		return IconDocument
	}
}

// Icon draws the icon for kind at size on a transparent canvas. The result
// depends only on its arguments.
func Icon(kind IconKind, size item.Size) *image.NRGBA {
	if !size.Valid() {
		size = item.Square(DefaultSize)
	}
	canvas := imaging.New(size.Width, size.Height, color.NRGBA{})

	side := min(size.Width, size.Height) * 3 / 4
	if side < 4 {
		side = min(size.Width, size.Height)
	}
	x0 := (size.Width - side) / 2
	y0 := (size.Height - side) / 2
	box := image.Rect(x0, y0, x0+side, y0+side)
	u := max(side/16, 1)

	switch kind {
	case IconFolder:
		fillRect(canvas, image.Rect(box.Min.X, box.Min.Y+2*u, box.Min.X+side*2/5, box.Min.Y+4*u), colorFolderTab)
		fillRect(canvas, image.Rect(box.Min.X, box.Min.Y+4*u, box.Max.X, box.Max.Y-2*u), colorFolder)
	case IconImage:
		fillRect(canvas, box, colorSky)
		fillCircle(canvas, image.Pt(box.Max.X-4*u, box.Min.Y+4*u), 2*u, colorSun)
		fillTriangle(canvas, image.Pt(box.Min.X+side/3, box.Min.Y+side/3), box.Min.X, box.Max.X-side/6, box.Max.Y, colorHill)
	case IconAudio:
		fillCircle(canvas, image.Pt(box.Min.X+5*u, box.Max.Y-4*u), 3*u, colorNote)
		fillRect(canvas, image.Rect(box.Min.X+7*u, box.Min.Y+2*u, box.Min.X+8*u, box.Max.Y-4*u), colorNote)
		fillRect(canvas, image.Rect(box.Min.X+7*u, box.Min.Y+2*u, box.Min.X+13*u, box.Min.Y+4*u), colorNote)
	case IconVideo:
		fillRect(canvas, image.Rect(box.Min.X, box.Min.Y+3*u, box.Max.X, box.Max.Y-3*u), colorFilm)
		for x := box.Min.X + u; x+u <= box.Max.X; x += 3 * u {
			fillRect(canvas, image.Rect(x, box.Min.Y+4*u, x+u, box.Min.Y+5*u), colorPage)
			fillRect(canvas, image.Rect(x, box.Max.Y-5*u, x+u, box.Max.Y-4*u), colorPage)
		}
		fillPlay(canvas, image.Rect(box.Min.X+6*u, box.Min.Y+6*u, box.Max.X-5*u, box.Max.Y-6*u), colorPlay)
	case IconPending:
		fillCircle(canvas, image.Pt(box.Min.X+side/3, box.Min.Y+side/2), side/5, colorCloud)
		fillCircle(canvas, image.Pt(box.Min.X+side*3/5, box.Min.Y+side*2/5), side/4, colorCloud)
		fillRect(canvas, image.Rect(box.Min.X+side/3, box.Min.Y+side/2, box.Min.X+side*4/5, box.Min.Y+side*2/3), colorCloud)
		fillRect(canvas, image.Rect(box.Min.X+side/2-u, box.Min.Y+side/2, box.Min.X+side/2+u, box.Max.Y-3*u), colorArrow)
		fillTriangle(canvas, image.Pt(box.Min.X+side/2, box.Max.Y), box.Min.X+side/2-3*u, box.Min.X+side/2+3*u, box.Max.Y-4*u, colorArrow)
	default:
		fillRect(canvas, image.Rect(box.Min.X+2*u, box.Min.Y, box.Max.X-2*u, box.Max.Y), colorPage)
		for y := box.Min.Y + 3*u; y+u <= box.Max.Y-2*u; y += 2 * u {
			fillRect(canvas, image.Rect(box.Min.X+4*u, y, box.Max.X-4*u, y+u/2+1), colorInk)
		}
	}
	return canvas
}

func fillRect(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), &image.Uniform{C: c}, image.Point{}, draw.Over)
}

func fillCircle(dst *image.NRGBA, center image.Point, radius int, c color.NRGBA) {
	r2 := radius * radius
	for y := center.Y - radius; y <= center.Y+radius; y++ {
		for x := center.X - radius; x <= center.X+radius; x++ {
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy <= r2 && image.Pt(x, y).In(dst.Bounds()) {
				dst.SetNRGBA(x, y, c)
			}
		}
	}
}

// fillTriangle fills the triangle with apex and the horizontal base from
// (left, base) to (right, base). The apex may lie above or below the base.
func fillTriangle(dst *image.NRGBA, apex image.Point, left, right, base int, c color.NRGBA) {
	height := base - apex.Y
	step := 1
	if height < 0 {
		height, step = -height, -1
	}
	if height == 0 {
		return
	}
	for i := 0; i <= height; i++ {
		y := apex.Y + i*step
		l := apex.X + (left-apex.X)*i/height
		r := apex.X + (right-apex.X)*i/height
		fillRect(dst, image.Rect(l, y, r+1, y+1), c)
	}
}

// fillPlay fills a right-pointing triangle inside r.
func fillPlay(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	h := r.Dy()
	if h <= 0 {
		return
	}
	mid := r.Min.Y + h/2
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := y - mid
		if d < 0 {
			d = -d
		}
		w := r.Dx() * (h/2 - d) / max(h/2, 1)
		fillRect(dst, image.Rect(r.Min.X, y, r.Min.X+w, y+1), c)
	}
}

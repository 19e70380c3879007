package plot

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Options controls the chart layout. Zero values fall back to defaults.
type Options struct {
	Width  int
	Height int
	Title  string
}

const (
	defaultWidth  = 960
	defaultHeight = 360
	margin        = 40.0
	fontSize      = 12.0
)

var (
	background = color.RGBA{0x1e, 0x1e, 0x24, 0xff}
	axisColor  = color.RGBA{0x9a, 0x9a, 0xa6, 0xff}
	gridColor  = color.RGBA{0x3a, 0x3a, 0x44, 0xff}
	lineColor  = color.RGBA{0xd9, 0x8c, 0x3f, 0xff}
	textColor  = color.RGBA{0xe8, 0xe8, 0xee, 0xff}
)

var (
	fontOnce sync.Once
	fontTTF  *truetype.Font
	fontErr  error
)

func loadFace() (font.Face, error) {
	fontOnce.Do(func() {
		fontTTF, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("plot: parse font: %w", fontErr)
	}
	return truetype.NewFace(fontTTF, &truetype.Options{Size: fontSize}), nil
}

// Render draws series as a line chart and writes it to w as PNG. series[i] is
// the level i minutes after start. An empty series yields a chart labelled
// "no data".
func Render(w io.Writer, series []float64, start time.Time, opts Options) error {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(background)
	dc.Clear()

	face, err := loadFace()
	if err != nil {
		return err
	}
	dc.SetFontFace(face)

	left, top := margin, margin
	right, bottom := float64(width)-margin/2, float64(height)-margin
	plotW, plotH := right-left, bottom-top

	// axes
	dc.SetColor(axisColor)
	dc.SetLineWidth(1)
	dc.DrawLine(left, top, left, bottom)
	dc.DrawLine(left, bottom, right, bottom)
	dc.Stroke()

	if opts.Title != "" {
		dc.SetColor(textColor)
		dc.DrawStringAnchored(opts.Title, float64(width)/2, margin/2, 0.5, 0.5)
	}

	if len(series) == 0 {
		dc.SetColor(textColor)
		dc.DrawStringAnchored("no data", left+plotW/2, top+plotH/2, 0.5, 0.5)
		return encode(w, dc)
	}

	peak := 0.0
	for _, v := range series {
		peak = math.Max(peak, v)
	}
	if peak == 0 {
		peak = 1
	}
	xStep := plotW / math.Max(float64(len(series)-1), 1)

	// hour gridlines aligned to wall-clock hours
	dc.SetColor(gridColor)
	first := (60 - start.Minute()) % 60
	for i := first; i < len(series); i += 60 {
		x := left + float64(i)*xStep
		dc.DrawLine(x, top, x, bottom)
	}
	dc.Stroke()

	dc.SetColor(lineColor)
	dc.SetLineWidth(2)
	for i, v := range series {
		x := left + float64(i)*xStep
		y := bottom - v/peak*plotH
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()

	dc.SetColor(textColor)
	dc.DrawStringAnchored(fmt.Sprintf("%.0f mg", peak), left-4, top, 1, 0.5)
	dc.DrawStringAnchored("0", left-4, bottom, 1, 0.5)
	end := start.Add(time.Duration(len(series)-1) * time.Minute)
	dc.DrawStringAnchored(start.Format("Jan 2 15:04"), left, bottom+margin/2, 0, 0.5)
	dc.DrawStringAnchored(end.Format("Jan 2 15:04"), right, bottom+margin/2, 1, 0.5)

	return encode(w, dc)
}

func encode(w io.Writer, dc *gg.Context) error {
	if err := png.Encode(w, dc.Image()); err != nil {
		return fmt.Errorf("plot: encode png: %w", err)
	}
	return nil
}

// Package chart renders the hourly forecast as a PNG bar chart.
package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/jinzhu/now"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/solarcast/internal/forecast"
)

// Width and Height match the Open Graph image size so the chart can be
// shared as a link preview.
const (
	Width  = 1200
	Height = 630

	Hours = 48

	margin    = 60
	plotTop   = 120
	plotBelow = 80
)

var (
	white     = color.RGBA{255, 255, 255, 255}
	lightGray = color.RGBA{200, 200, 200, 255}
	barPast   = color.RGBA{120, 120, 140, 255}
	barFuture = color.RGBA{250, 190, 40, 255}
	barNow    = color.RGBA{255, 120, 30, 255}
	axis      = color.RGBA{90, 90, 110, 255}
)

// Bars returns the total Wh for each hour of today and tomorrow.
func Bars(state *forecast.State, at time.Time) [Hours]float64 {
	var bars [Hours]float64
	if state == nil || state.Total == nil {
		return bars
	}
	loc := at.Location()
	start := now.With(at).BeginningOfDay()
	for i := range bars {
		key := forecast.HourKey(start.Add(time.Duration(i)*time.Hour), loc)
		bars[i] = state.Total.WhHours[key]
	}
	return bars
}

// Render draws today's and tomorrow's hourly totals. A nil state renders a
// placeholder.
func Render(state *forecast.State, at time.Time) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	drawBackground(img)

	if state == nil || state.Total == nil {
		drawText(img, "No forecast yet", margin, Height/2, white)
		return encode(img)
	}

	bars := Bars(state, at)
	drawBars(img, bars, at.Hour())

	t := state.Total
	drawText(img, fmt.Sprintf("Today %.1f kWh (%.1f kWh remaining)", t.EnergyToday/1000, t.EnergyTodayRemaining/1000), margin, 50, white)
	drawText(img, fmt.Sprintf("Tomorrow %.1f kWh", t.EnergyTomorrow/1000), margin, 75, white)
	drawText(img, fmt.Sprintf("Now %.0f W", t.PowerNow), Width/2, 50, white)

	status := "Updated " + state.UpdatedAt.In(at.Location()).Format("2006-01-02 15:04")
	if !state.WeatherAvailable {
		status += " (weather unavailable, clear sky)"
	}
	drawText(img, status, margin, Height-30, lightGray)
	return encode(img)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

func drawBackground(img *image.RGBA) {
	for y := 0; y < Height; y++ {
		progress := float64(y) / float64(Height)
		c := color.RGBA{uint8(20 + progress*10), uint8(20 + progress*15), uint8(40 + progress*20), 255}
		for x := 0; x < Width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawBars(img *image.RGBA, bars [Hours]float64, nowHour int) {
	var peak float64
	for _, v := range bars {
		peak = max(peak, v)
	}

	plotW := Width - 2*margin
	plotH := Height - plotTop - plotBelow
	baseline := plotTop + plotH
	slot := plotW / Hours

	fill(img, image.Rect(margin, baseline, Width-margin, baseline+2), axis)
	// day divider
	fill(img, image.Rect(margin+24*slot, plotTop, margin+24*slot+1, baseline), axis)

	for i, v := range bars {
		x0 := margin + i*slot + 2
		x1 := margin + (i+1)*slot - 2
		if i%6 == 0 {
			drawText(img, fmt.Sprintf("%02d", i%24), x0, baseline+20, lightGray)
		}
		if peak <= 0 || v <= 0 {
			continue
		}
		h := int(v / peak * float64(plotH))
		c := barFuture
		switch {
		case i < nowHour:
			c = barPast
		case i == nowHour:
			c = barNow
		}
		fill(img, image.Rect(x0, baseline-h, x1, baseline), c)
	}
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package readout renders a reading as an image, for e-paper and OLED panels
// or for a status page.
package readout

import (
	"errors"
	"image"
	"io"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// Opts holds the rendering options.
type Opts struct {
	// W and H are the image size in pixels.
	W, H int
	// Size is the font size of the value in points. The caption uses a
	// third of it.
	Size float64
}

// DefaultOpts fits a 250x122 e-paper panel.
var DefaultOpts = Opts{W: 250, H: 122, Size: 36}

var font *truetype.Font

func init() {
	var err error
	if font, err = truetype.Parse(goregular.TTF); err != nil {
		panic(err)
	}
}

// Render draws value centered in a rounded frame with caption under it,
// black on white.
func Render(value, caption string, opts *Opts) (image.Image, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.W <= 0 || opts.H <= 0 || opts.Size <= 0 {
		return nil, errors.New("readout: invalid options")
	}
	w, h := float64(opts.W), float64(opts.H)
	dc := gg.NewContext(opts.W, opts.H)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	padding := 4.0
	dc.SetLineWidth(2)
	dc.DrawRoundedRectangle(padding, padding, w-2*padding, h-2*padding, 10)
	dc.Stroke()

	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: opts.Size}))
	dc.DrawStringAnchored(value, w/2, h/2, 0.5, 0.5)
	if caption != "" {
		dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: opts.Size / 3}))
		dc.DrawStringAnchored(caption, w/2, h-3*padding, 0.5, 0)
	}
	return dc.Image(), nil
}

// Encode renders value and caption and writes them to out as PNG.
func Encode(out io.Writer, value, caption string, opts *Opts) error {
	img, err := Render(value, caption, opts)
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(out)
}

// Save renders value and caption to the PNG file path.
func Save(path, value, caption string, opts *Opts) error {
	img, err := Render(value, caption, opts)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}

// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package fits

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteMonoJPG(writer, min, max, gamma, quality)
}

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	// convert pixels into Golang Image
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := f.Data[yoffset+x]
			gray = (gray - min) * scale
			// replace NaNs with zeros for export, else JPG output breaks
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			c := color.Gray{uint8(gray * 255)}
			img.SetGray(x, y, c)
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// False-color lookup table, dark blue through teal to warm yellow, blended
// in the perceptually uniform Luv space
var falseColorLUT = makeFalseColorLUT()

func makeFalseColorLUT() []color.RGBA {
	low := colorful.Color{R: 0.05, G: 0.05, B: 0.35}
	mid := colorful.Color{R: 0.05, G: 0.55, B: 0.55}
	high := colorful.Color{R: 0.95, G: 0.85, B: 0.25}
	lut := make([]color.RGBA, 256)
	for i := range lut {
		t := float64(i) / 255
		var c colorful.Color
		if t < 0.5 {
			c = low.BlendLuv(mid, t*2)
		} else {
			c = mid.BlendLuv(high, (t-0.5)*2)
		}
		r, g, b := c.Clamped().RGB255()
		lut[i] = color.RGBA{r, g, b, 255}
	}
	return lut
}

// Write a grayscale FITS image to a false-color JPG, mapping normalized
// intensities through a perceptual color lookup table. Useful for eyeballing
// cutouts whose dynamic range hides detail in plain grayscale
func (f *Image) WriteFalseColorJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return f.WriteFalseColorJPG(writer, min, max, gamma, quality)
}

// Write a grayscale FITS image to a false-color JPG, using the given min, max and gamma.
func (f *Image) WriteFalseColorJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := f.Data[yoffset+x]
			gray = (gray - min) * scale
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = float32(math.Pow(float64(gray), gammaInv))
			}
			img.SetRGBA(x, y, falseColorLUT[uint8(gray*255)])
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

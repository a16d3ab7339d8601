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
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Write an image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteTIFF16(writer io.Writer, min, max, gamma float32) error {
	return tiff.Encode(writer, f.ToImage16(min, max, gamma), &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Write an image to JPG, using the given min, max and gamma.
func (f *Image) WriteJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	return jpeg.Encode(writer, f.ToImage8(min, max, gamma), &jpeg.Options{Quality: quality})
}

// Write an image to 8-bit PNG, using the given min, max and gamma.
func (f *Image) WritePNG(writer io.Writer, min, max, gamma float32) error {
	return png.Encode(writer, f.ToImage8(min, max, gamma))
}

// Write an image to 16-bit PNG, using the given min, max and gamma.
func (f *Image) WritePNG16(writer io.Writer, min, max, gamma float32) error {
	return png.Encode(writer, f.ToImage16(min, max, gamma))
}

// Writes the image to a file, choosing the format from the file name extension:
// .fits/.fit/.fts, .tif/.tiff, .jpg/.jpeg or .png. Values are mapped from [min,max] for all but FITS.
func (f *Image) WriteImageFile(fileName string, min, max, gamma float32) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".fits", ".fit", ".fts":
		return f.WriteFile(fileName)
	case ".tif", ".tiff", ".jpg", ".jpeg", ".png":
	default:
		return fmt.Errorf("unsupported output format '%s' for %s", ext, fileName)
	}

	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	switch ext {
	case ".tif", ".tiff":
		err = f.WriteTIFF16(writer, min, max, gamma)
	case ".jpg", ".jpeg":
		err = f.WriteJPG(writer, min, max, gamma, 95)
	case ".png":
		err = f.WritePNG(writer, min, max, gamma)
	}
	if err != nil {
		return err
	}
	return writer.Flush()
}

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
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrNotFITS = errors.New("not a FITS file")

// Reads a FITS image from the given file. Files ending in .gz are decompressed on the fly
func ReadFile(fileName string, id int) (*Image, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.EqualFold(filepath.Ext(fileName), ".gz") {
		if r, err = gzip.NewReader(r); err != nil {
			return nil, err
		}
	}
	img, err := Read(r, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	img.FileName = fileName
	return img, nil
}

// Reads the primary image of a FITS stream. Pixel values are scaled by BSCALE and BZERO
// and stored as float32, so the result always has BITPIX -32.
func Read(r io.Reader, id int) (*Image, error) {
	img := NewImage()
	img.ID = id
	if err := img.Header.read(r); err != nil {
		return nil, err
	}

	h := &img.Header
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%w: SIMPLE=T missing", ErrNotFITS)
	}
	bitpix, ok := h.Ints["BITPIX"]
	if !ok {
		return nil, fmt.Errorf("%w: BITPIX missing", ErrNotFITS)
	}
	naxis := h.Ints["NAXIS"]
	img.Naxisn, img.Pixels = make([]int32, naxis), 1
	for i := range img.Naxisn {
		n, ok := h.Ints["NAXIS"+strconv.Itoa(i+1)]
		if !ok || n <= 0 {
			return nil, fmt.Errorf("%w: invalid NAXIS%d", ErrNotFITS, i+1)
		}
		img.Naxisn[i] = n
		img.Pixels *= n
	}
	bzero, bscale := h.number("BZERO", 0), h.number("BSCALE", 1)
	for _, k := range []string{"SIMPLE", "BITPIX", "NAXIS", "BZERO", "BSCALE"} {
		h.remove(k)
	}
	for i := range img.Naxisn {
		h.remove("NAXIS" + strconv.Itoa(i+1))
	}

	data, err := readSamples(r, bitpix, int(img.Pixels))
	if err != nil {
		return nil, err
	}
	for i, v := range data {
		data[i] = v*bscale + bzero
	}
	img.Data, img.Bitpix = data, -32
	return img, nil
}

func readSamples(r io.Reader, bitpix int32, n int) ([]float32, error) {
	res := make([]float32, n)
	var err error
	switch bitpix {
	case 8:
		raw := make([]uint8, n)
		if _, err = io.ReadFull(r, raw); err == nil {
			for i, v := range raw {
				res[i] = float32(v)
			}
		}
	case 16:
		raw := make([]int16, n)
		if err = binary.Read(r, binary.BigEndian, raw); err == nil {
			for i, v := range raw {
				res[i] = float32(v)
			}
		}
	case 32:
		raw := make([]int32, n)
		if err = binary.Read(r, binary.BigEndian, raw); err == nil {
			for i, v := range raw {
				res[i] = float32(v)
			}
		}
	case -32:
		err = binary.Read(r, binary.BigEndian, res)
	case -64:
		raw := make([]float64, n)
		if err = binary.Read(r, binary.BigEndian, raw); err == nil {
			for i, v := range raw {
				res[i] = float32(v)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported BITPIX %d", ErrNotFITS, bitpix)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %d samples: %w", n, err)
	}
	return res, nil
}

// Reads header blocks up to and including the one holding the END card
func (h *Header) read(r io.Reader) error {
	buf := make([]byte, fitsBlockSize)
	for h.Length = 0; !h.End; h.Length += int32(fitsBlockSize) {
		if _, err := io.ReadFull(r, buf); err != nil {
			if h.Length == 0 {
				return fmt.Errorf("%w: %v", ErrNotFITS, err)
			}
			return err
		}
		for off := 0; off < fitsBlockSize && !h.End; off += HeaderLineSize {
			h.parseCard(string(buf[off : off+HeaderLineSize]))
		}
	}
	return nil
}

// Parses a single 80 character header card. Cards which do not parse are skipped.
func (h *Header) parseCard(card string) {
	key := strings.TrimSpace(card[:8])
	switch key {
	case "END":
		h.End = true
		return
	case "HISTORY":
		h.History = append(h.History, strings.TrimSpace(card[8:]))
		return
	case "COMMENT":
		h.Comments = append(h.Comments, strings.TrimSpace(card[8:]))
		return
	case "":
		return
	}
	if card[8:10] != "= " {
		return
	}
	val := strings.TrimSpace(card[10:])

	if strings.HasPrefix(val, "'") {
		// quotes inside strings are doubled
		var sb strings.Builder
		for i := 1; i < len(val); i++ {
			if val[i] == '\'' {
				if i+1 < len(val) && val[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(val[i])
		}
		h.Strings[key] = strings.TrimRight(sb.String(), " ")
		return
	}

	if i := strings.IndexByte(val, '/'); i >= 0 {
		val = strings.TrimSpace(val[:i])
	}
	switch {
	case val == "T" || val == "F":
		h.Bools[key] = val == "T"
	case strings.ContainsAny(val, ".ED"):
		if f, err := strconv.ParseFloat(strings.Replace(val, "D", "E", 1), 32); err == nil {
			h.Floats[key] = float32(f)
		}
	default:
		if i, err := strconv.ParseInt(val, 10, 32); err == nil {
			h.Ints[key] = int32(i)
		}
	}
}

// Returns a numeric header value given as integer or float, or def if absent
func (h *Header) number(key string, def float32) float32 {
	if v, ok := h.Ints[key]; ok {
		return float32(v)
	}
	if v, ok := h.Floats[key]; ok {
		return v
	}
	return def
}

func (h *Header) remove(key string) {
	delete(h.Bools, key)
	delete(h.Ints, key)
	delete(h.Floats, key)
	delete(h.Strings, key)
}

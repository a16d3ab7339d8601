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

package ser

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/exp/mmap"
)

var (
	ErrUnsupportedFormat     = errors.New("unsupported video format")
	ErrUnsupportedPixelDepth = errors.New("unsupported pixel depth")
)

// Size of the fixed SER header. Frame data starts right after it.
const HeaderSize = 178

// Signature of SER files, as written by Lucam Recorder, FireCapture, SharpCap and friends
var SignatureSER = []byte("LUCAM-RECORDER")

// The SER file header. Spec here: https://free-astro.org/index.php?title=File:SER_Doc_V3b.pdf
// All values little-endian.
type Header struct {
	FileID       [14]byte
	LuID         uint32 // lumenera camera series id, unused
	ColorID      uint32 // 0=mono, 8..19 bayer, 100/101 RGB/BGR
	LittleEndian uint32 // byte order flag of 16 bit data. Ignored, files in the wild are little-endian anyway
	Width        uint32 // sensor columns
	Height       uint32 // sensor rows
	PixelDepth   uint32 // bits per sample: 8, 16 or 32
	FrameCount   uint32
	Observer     [40]byte
	Instrument   [40]byte
	Telescope    [40]byte
	DateTime     int64
	DateTimeUTC  int64
}

// Returns the size of a single frame in bytes
func (h *Header) FrameSize() int {
	return int(h.Width) * int(h.Height) * int(h.PixelDepth) / 8
}

func (h *Header) String() string {
	return fmt.Sprintf("%dx%d pixels, %d bit, %d frames", h.Width, h.Height, h.PixelDepth, h.FrameCount)
}

// Returns a fixed-size text field of the header without padding
func TrimField(b []byte) string {
	return string(bytes.TrimRight(bytes.TrimRight(b, "\x00"), " "))
}

// Parses a SER header from the first HeaderSize bytes of b
func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: header has %d bytes, need %d", ErrUnsupportedFormat, len(b), HeaderSize)
	}
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return h, err
	}
	switch h.PixelDepth {
	case 8, 16, 32:
	default:
		return h, fmt.Errorf("%w: %d", ErrUnsupportedPixelDepth, h.PixelDepth)
	}
	if h.Width == 0 || h.Height == 0 {
		return h, fmt.Errorf("%w: empty frame size %dx%d", ErrUnsupportedFormat, h.Width, h.Height)
	}
	return h, nil
}

// A SER video, mapped read-only into memory. Frames are decoded from the
// mapped region on demand, the file is never read as a whole.
type Reader struct {
	FileName string
	Header   Header

	mm     *mmap.ReaderAt
	rotate bool // rotate frames by 90 degrees so the scan axis becomes the row axis
	frames int  // frames actually present in the file
}

func openSER(fileName string, mm *mmap.ReaderAt) (Source, error) {
	buf := make([]byte, HeaderSize)
	if _, err := mm.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: reading header of %s: %v", ErrUnsupportedFormat, fileName, err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	// Aborted captures sometimes leave a frame count which the data does not back
	frames := int(h.FrameCount)
	if avail := (mm.Len() - HeaderSize) / h.FrameSize(); avail < frames {
		frames = avail
	}

	return &Reader{
		FileName: fileName,
		Header:   h,
		mm:       mm,
		rotate:   h.Width > h.Height,
		frames:   frames,
	}, nil
}

func (r *Reader) Width() int {
	if r.rotate {
		return int(r.Header.Height)
	}
	return int(r.Header.Width)
}

func (r *Reader) Height() int {
	if r.rotate {
		return int(r.Header.Width)
	}
	return int(r.Header.Height)
}

func (r *Reader) FrameCount() int { return r.frames }
func (r *Reader) BitDepth() int   { return int(r.Header.PixelDepth) }
func (r *Reader) Rotated() bool   { return r.rotate }

func (r *Reader) Frames() *FrameIterator { return &FrameIterator{src: r} }

// Decodes frame i. Safe for concurrent use.
func (r *Reader) Frame(i int) (*Frame, error) {
	if i < 0 || i >= r.frames {
		return nil, fmt.Errorf("frame %d out of range [0,%d)", i, r.frames)
	}
	size := r.Header.FrameSize()
	buf := make([]byte, size)
	if _, err := r.mm.ReadAt(buf, int64(HeaderSize)+int64(i)*int64(size)); err != nil {
		return nil, fmt.Errorf("reading frame %d of %s: %w", i, r.FileName, err)
	}

	w, h := int(r.Header.Width), int(r.Header.Height)
	f := &Frame{Width: w, Height: h, Data: make([]uint32, w*h)}
	switch r.Header.PixelDepth {
	case 8:
		for j, b := range buf {
			f.Data[j] = uint32(b)
		}
	case 16:
		for j := range f.Data {
			f.Data[j] = uint32(binary.LittleEndian.Uint16(buf[2*j:]))
		}
	case 32:
		for j := range f.Data {
			f.Data[j] = binary.LittleEndian.Uint32(buf[4*j:])
		}
	}

	if r.rotate {
		f = f.Rot90()
	}
	return f, nil
}

func (r *Reader) Close() error {
	if r.mm == nil {
		return nil
	}
	err := r.mm.Close()
	r.mm = nil
	return err
}

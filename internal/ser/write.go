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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Creates a header for a mono little-endian video with the given dimensions
func NewHeader(width, height, depth, frames int) Header {
	h := Header{
		LittleEndian: 1,
		Width:        uint32(width),
		Height:       uint32(height),
		PixelDepth:   uint32(depth),
		FrameCount:   uint32(frames),
	}
	copy(h.FileID[:], SignatureSER)
	return h
}

// Writes SER videos frame by frame. Frames are given in stored, unrotated orientation.
type Writer struct {
	w       io.Writer
	header  Header
	written int
	buf     []byte
}

// Writes the header and returns a writer for the frame data
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	switch h.PixelDepth {
	case 8, 16, 32:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPixelDepth, h.PixelDepth)
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	return &Writer{w: w, header: h, buf: make([]byte, h.FrameSize())}, nil
}

// Writes the next frame. Samples are truncated to the pixel depth
func (sw *Writer) WriteFrame(samples []uint32) error {
	h := &sw.header
	if len(samples) != int(h.Width*h.Height) {
		return fmt.Errorf("frame has %d samples, want %dx%d", len(samples), h.Width, h.Height)
	}
	if sw.written >= int(h.FrameCount) {
		return fmt.Errorf("header announced %d frames", h.FrameCount)
	}
	switch h.PixelDepth {
	case 8:
		for i, s := range samples {
			sw.buf[i] = byte(s)
		}
	case 16:
		for i, s := range samples {
			binary.LittleEndian.PutUint16(sw.buf[2*i:], uint16(s))
		}
	case 32:
		for i, s := range samples {
			binary.LittleEndian.PutUint32(sw.buf[4*i:], s)
		}
	}
	if _, err := sw.w.Write(sw.buf); err != nil {
		return err
	}
	sw.written++
	return nil
}

// Writes a complete video to the named file, calling frame(i) for each frame's samples
func WriteFile(fileName string, h Header, frame func(i int) []uint32) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	sw, err := NewWriter(bw, h)
	if err != nil {
		return err
	}
	for i := 0; i < int(h.FrameCount); i++ {
		if err := sw.WriteFrame(frame(i)); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}

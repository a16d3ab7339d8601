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
	"fmt"

	"golang.org/x/exp/mmap"
)

// A raw scanning video. Width and Height are reported after any rotation,
// so the scan axis is always the row axis of the frames returned.
type Source interface {
	Width() int
	Height() int
	FrameCount() int
	BitDepth() int
	Frame(i int) (*Frame, error)
	Frames() *FrameIterator
	Close() error
}

// Constructs a source from a memory-mapped file whose signature matched
type OpenFunc func(fileName string, mm *mmap.ReaderAt) (Source, error)

// A container format, recognized by the signature at the start of the file
type Format struct {
	Name      string
	Signature []byte
	Open      OpenFunc
}

var formats = []Format{
	{Name: "SER", Signature: SignatureSER, Open: openSER},
}

// Registers an additional container format. Panics on duplicate signatures
func RegisterFormat(f Format) {
	for _, g := range formats {
		if bytes.Equal(g.Signature, f.Signature) {
			panic(fmt.Sprintf("error: re-registering video format signature %q", f.Signature))
		}
	}
	formats = append(formats, f)
}

// Opens the video with the given file name. The format is detected from the
// header bytes, not from the file name suffix.
func Open(fileName string) (Source, error) {
	mm, err := mmap.Open(fileName)
	if err != nil {
		return nil, err
	}
	maxLen := 0
	for _, f := range formats {
		if len(f.Signature) > maxLen {
			maxLen = len(f.Signature)
		}
	}
	if mm.Len() < maxLen {
		maxLen = mm.Len()
	}
	sig := make([]byte, maxLen)
	if _, err := mm.ReadAt(sig, 0); err != nil {
		mm.Close()
		return nil, err
	}

	for _, f := range formats {
		if !bytes.HasPrefix(sig, f.Signature) {
			continue
		}
		src, err := f.Open(fileName, mm)
		if err != nil {
			mm.Close()
			return nil, err
		}
		return src, nil
	}
	mm.Close()
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fileName)
}

// A single-pass iterator over all frames of a source, starting at frame 0.
// Call Source.Frames() again to restart.
type FrameIterator struct {
	src   Source
	next  int
	frame *Frame
	err   error
}

// Advances to the next frame. Returns false at the end or on error
func (it *FrameIterator) Next() bool {
	if it.err != nil || it.next >= it.src.FrameCount() {
		it.frame = nil
		return false
	}
	it.frame, it.err = it.src.Frame(it.next)
	if it.err != nil {
		return false
	}
	it.next++
	return true
}

// The current frame
func (it *FrameIterator) Frame() *Frame { return it.frame }

// Index of the current frame
func (it *FrameIterator) Index() int { return it.next - 1 }

func (it *FrameIterator) Err() error { return it.err }

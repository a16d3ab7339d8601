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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/mmap"
)

func writeTestVideo(t *testing.T, width, height, depth, frames int) string {
	t.Helper()
	fileName := filepath.Join(t.TempDir(), "test.ser")
	err := WriteFile(fileName, NewHeader(width, height, depth, frames), func(i int) []uint32 {
		samples := make([]uint32, width*height)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				samples[y*width+x] = uint32(i*100 + y*width + x)
			}
		}
		return samples
	})
	require.NoError(t, err)
	return fileName
}

func TestOpenAndReadAllDepths(t *testing.T) {
	for _, depth := range []int{8, 16, 32} {
		fileName := writeTestVideo(t, 3, 5, depth, 2)
		src, err := Open(fileName)
		require.NoError(t, err, "depth %d", depth)

		assert.Equal(t, 3, src.Width())
		assert.Equal(t, 5, src.Height())
		assert.Equal(t, 2, src.FrameCount())
		assert.Equal(t, depth, src.BitDepth())

		f, err := src.Frame(1)
		require.NoError(t, err)
		mask := uint32(1<<uint(depth) - 1)
		if depth == 32 {
			mask = ^uint32(0)
		}
		for y := 0; y < 5; y++ {
			for x := 0; x < 3; x++ {
				assert.Equal(t, uint32(100+y*3+x)&mask, f.At(x, y), "depth %d at (%d,%d)", depth, x, y)
			}
		}
		require.NoError(t, src.Close())
	}
}

func TestOpenRotatesLandscapeFrames(t *testing.T) {
	fileName := writeTestVideo(t, 4, 2, 16, 1)
	src, err := Open(fileName)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 2, src.Width())
	assert.Equal(t, 4, src.Height())

	f, err := src.Frame(0)
	require.NoError(t, err)
	// stored rows [0 1 2 3] [4 5 6 7], rotated counter-clockwise
	want := []uint32{3, 7, 2, 6, 1, 5, 0, 4}
	assert.Equal(t, want, f.Data)
}

func TestFramesIsRestartable(t *testing.T) {
	fileName := writeTestVideo(t, 2, 3, 16, 4)
	src, err := Open(fileName)
	require.NoError(t, err)
	defer src.Close()

	for pass := 0; pass < 2; pass++ {
		n := 0
		it := src.Frames()
		for it.Next() {
			assert.Equal(t, n, it.Index())
			assert.Equal(t, uint32(n*100), it.Frame().At(0, 0))
			n++
		}
		require.NoError(t, it.Err())
		assert.Equal(t, 4, n, "pass %d", pass)
	}
}

func TestOpenRejectsUnknownSignature(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "video.ser")
	require.NoError(t, os.WriteFile(fileName, bytes.Repeat([]byte{'x'}, 400), 0644))

	_, err := Open(fileName)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)
}

func TestOpenRejectsPixelDepth(t *testing.T) {
	h := NewHeader(2, 2, 16, 1)
	h.PixelDepth = 12
	var buf bytes.Buffer
	_, err := NewWriter(&buf, h)
	assert.True(t, errors.Is(err, ErrUnsupportedPixelDepth))

	// write the bad header by hand to check the reader side
	good := NewHeader(2, 2, 16, 1)
	_, err = NewWriter(&buf, good)
	require.NoError(t, err)
	raw := buf.Bytes()
	raw[34] = 12
	fileName := filepath.Join(t.TempDir(), "depth.ser")
	require.NoError(t, os.WriteFile(fileName, append(raw, make([]byte, 8)...), 0644))

	_, err = Open(fileName)
	assert.True(t, errors.Is(err, ErrUnsupportedPixelDepth), "got %v", err)
}

func TestTruncatedFileClampsFrameCount(t *testing.T) {
	fileName := writeTestVideo(t, 2, 2, 8, 3)
	raw, err := os.ReadFile(fileName)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fileName, raw[:len(raw)-2], 0644))

	src, err := Open(fileName)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 2, src.FrameCount())
}

func TestRegisterFormatDispatchesOnSignature(t *testing.T) {
	saved := append([]Format(nil), formats...)
	t.Cleanup(func() { formats = saved })

	errRaw := errors.New("raw scan opened")
	var opened string
	RegisterFormat(Format{Name: "RAW", Signature: []byte("RAWSCAN1"), Open: func(fileName string, mm *mmap.ReaderAt) (Source, error) {
		opened = fileName
		return nil, errRaw
	}})

	fileName := filepath.Join(t.TempDir(), "scan.ser")
	require.NoError(t, os.WriteFile(fileName, append([]byte("RAWSCAN1"), make([]byte, 200)...), 0644))
	_, err := Open(fileName)
	assert.ErrorIs(t, err, errRaw)
	assert.Equal(t, fileName, opened, "dispatch by header bytes, not by suffix")

	// SER files still open through the built-in format
	src, err := Open(writeTestVideo(t, 4, 6, 8, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, src.FrameCount())
	src.Close()

	assert.Panics(t, func() { RegisterFormat(Format{Name: "SER again", Signature: SignatureSER, Open: openSER}) })
}

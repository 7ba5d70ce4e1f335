package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotWave is returned when a file is not a RIFF/WAVE PCM stream.
var ErrNotWave = errors.New("not a RIFF/WAVE PCM file")

// WavInfo describes the PCM payload of a WAVE file.
type WavInfo struct {
	SampleRate int
	Channels   int
	BitsDepth  int
	BlockAlign int
	DataOffset int64 // absolute file offset of the PCM payload
	DataLen    int64 // payload length in bytes
}

// DurationMs returns the payload duration in whole milliseconds.
func (w WavInfo) DurationMs() int64 {
	frames := w.DataLen / int64(w.BlockAlign)
	return frames * 1000 / int64(w.SampleRate)
}

// ByteOffset converts a millisecond position into a frame-aligned byte offset
// within the data payload.
func (w WavInfo) ByteOffset(ms int64) int64 {
	frame := ms * int64(w.SampleRate) / 1000
	return frame * int64(w.BlockAlign)
}

// ReadWavInfo parses the RIFF header and locates the fmt and data chunks.
// Extra chunks (LIST, fact, ...) are skipped. Only uncompressed PCM is
// accepted, which is what the normalizer produces.
func ReadWavInfo(f *os.File) (WavInfo, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return WavInfo{}, fmt.Errorf("%w: %v", ErrNotWave, err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return WavInfo{}, ErrNotWave
	}

	var info WavInfo
	haveFmt := false
	offset := int64(12)
	for {
		var ch [8]byte
		if _, err := f.ReadAt(ch[:], offset); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return WavInfo{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(ch[0:4])
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch id {
		case "fmt ":
			var body [16]byte
			if _, err := f.ReadAt(body[:], offset+8); err != nil {
				return WavInfo{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 { // PCM
				return WavInfo{}, fmt.Errorf("%w: format tag %d", ErrNotWave, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BlockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
			info.BitsDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			info.DataOffset = offset + 8
			info.DataLen = size
		}

		// Chunks are word-aligned; odd sizes carry a pad byte.
		offset += 8 + size
		if size%2 == 1 {
			offset++
		}
	}

	if !haveFmt || info.DataOffset == 0 {
		return WavInfo{}, ErrNotWave
	}
	if info.SampleRate <= 0 || info.Channels <= 0 || info.BlockAlign <= 0 {
		return WavInfo{}, fmt.Errorf("%w: invalid fmt parameters", ErrNotWave)
	}

	// A truncated file may declare more data than it holds; clamp to the
	// actual file size so byte math stays in bounds.
	if st, err := f.Stat(); err == nil {
		if max := st.Size() - info.DataOffset; info.DataLen > max {
			info.DataLen = max
		}
	}

	return info, nil
}

// WriteWavHeader writes a canonical 44-byte PCM WAVE header.
func WriteWavHeader(w io.Writer, info WavInfo, dataLen int64) error {
	byteRate := info.SampleRate * info.Channels * info.BitsDepth / 8

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataLen))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(info.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(info.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(info.BlockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], uint16(info.BitsDepth))
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataLen))

	_, err := w.Write(hdr[:])
	return err
}

// Package wavio reads RIFF/WAVE headers so stream parameters can be detected
// from the input file instead of configured by hand.
package wavio

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Info describes the audio format declared in a WAV header.
type Info struct {
	// SampleRate is the sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels.
	Channels int

	// BitsPerSample is the sample width in bits.
	BitsPerSample int

	// DataSize is the size of the PCM data chunk in bytes.
	DataSize uint32
}

// Duration returns the playback duration declared by the header.
func (i Info) Duration() time.Duration {
	if i.SampleRate <= 0 || i.Channels <= 0 || i.BitsPerSample <= 0 {
		return 0
	}
	bytesPerSecond := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(float64(i.DataSize) / float64(bytesPerSecond) * float64(time.Second))
}

// fmtChunk is the wire layout of the "fmt " chunk body for PCM audio.
type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// ReadHeader consumes the WAV header from r and returns the declared format
// together with a reader positioned at the start of the PCM data. Chunks
// other than "fmt " and "data" (such as LIST metadata) are skipped.
func ReadHeader(r io.Reader) (Info, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, nil, fmt.Errorf("wavio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return Info{}, nil, fmt.Errorf("wavio: missing RIFF marker")
	}
	if string(riff[8:12]) != "WAVE" {
		return Info{}, nil, fmt.Errorf("wavio: missing WAVE marker")
	}

	var info Info
	sawFmt := false
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return Info{}, nil, fmt.Errorf("wavio: read chunk header: %w", err)
		}
		id := string(chunkHeader[0:4])
		size := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch id {
		case "fmt ":
			var f fmtChunk
			if err := binary.Read(io.LimitReader(r, int64(size)), binary.LittleEndian, &f); err != nil {
				return Info{}, nil, fmt.Errorf("wavio: read fmt chunk: %w", err)
			}
			if f.AudioFormat != 1 {
				return Info{}, nil, fmt.Errorf("wavio: unsupported audio format %d (only PCM is supported)", f.AudioFormat)
			}
			info.SampleRate = int(f.SampleRate)
			info.Channels = int(f.NumChannels)
			info.BitsPerSample = int(f.BitsPerSample)
			// Skip any fmt extension bytes beyond the PCM fields.
			if extra := int64(size) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra); err != nil {
					return Info{}, nil, fmt.Errorf("wavio: skip fmt extension: %w", err)
				}
			}
			sawFmt = true
		case "data":
			if !sawFmt {
				return Info{}, nil, fmt.Errorf("wavio: data chunk before fmt chunk")
			}
			info.DataSize = size
			return info, io.LimitReader(r, int64(size)), nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return Info{}, nil, fmt.Errorf("wavio: skip %q chunk: %w", id, err)
			}
		}
	}
}

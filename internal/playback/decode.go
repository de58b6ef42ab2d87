package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// ErrDecode wraps every decoding failure.
var ErrDecode = errors.New("playback: decode failed")

const resampleQuality = 4

// Decode fully decodes WAV or MP3 bytes into a buffer at rate. The container
// is sniffed from the header.
func Decode(data []byte, rate beep.SampleRate) (buf *beep.Buffer, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %v", ErrDecode, r)
		}
	}()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	if bytes.HasPrefix(data, []byte("RIFF")) {
		s, format, err = wav.Decode(bytes.NewReader(data))
	} else {
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, s)
	}
	buf = beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrDecode)
	}
	return buf, nil
}

// WAV wraps little-endian 16-bit PCM in a RIFF header.
func WAV(pcm []byte, rate, channels int) []byte {
	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	le := binary.LittleEndian
	b.WriteString("RIFF")
	binary.Write(&b, le, uint32(36+len(pcm)))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, le, uint32(16))
	binary.Write(&b, le, uint16(1))
	binary.Write(&b, le, uint16(channels))
	binary.Write(&b, le, uint32(rate))
	binary.Write(&b, le, uint32(rate*channels*2))
	binary.Write(&b, le, uint16(channels*2))
	binary.Write(&b, le, uint16(16))
	b.WriteString("data")
	binary.Write(&b, le, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

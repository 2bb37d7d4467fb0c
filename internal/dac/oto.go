package dac

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink is the production Sink, backed by github.com/ebitengine/oto/v3.
//
// oto's Player pulls bytes through an io.Reader; the engine's mix loop wants
// to push a filled buffer and block until the device has taken it. io.Pipe
// bridges the two: PipeWriter.Write blocks until PipeReader.Read drains it,
// so Write below blocks exactly as long as oto takes to consume the block,
// which is what paces the audio thread per §4.7.
type OtoSink struct {
	rate   int
	ctx    *oto.Context
	player *oto.Player
	pw     *io.PipeWriter
	closed bool
}

// NewOtoSink opens the default output device at sampleRate, stereo 16-bit.
func NewOtoSink(sampleRate int) (*OtoSink, error) {
	pr, pw := io.Pipe()

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("dac: open oto context: %w", err)
	}
	<-ready

	player := ctx.NewPlayer(pr)
	player.Play()

	return &OtoSink{
		rate:   sampleRate,
		ctx:    ctx,
		player: player,
		pw:     pw,
	}, nil
}

// Write blocks until the device's internal buffer has drained enough to
// accept frames.
func (s *OtoSink) Write(frames []int16) error {
	if s.closed {
		return ErrAlreadyClosed
	}
	buf := make([]byte, len(frames)*2)
	for i, v := range frames {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	_, err := s.pw.Write(buf)
	return err
}

func (s *OtoSink) SampleRate() int { return s.rate }

// Close pauses the player, waits 10ms, then closes the player and the pipe,
// matching the teacher's Player.Stop pause-then-close sequencing.
func (s *OtoSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.player.Pause()
	time.Sleep(10 * time.Millisecond)
	if err := s.player.Close(); err != nil {
		_ = s.pw.CloseWithError(err)
		return err
	}
	return s.pw.Close()
}

// Package mus2mid transcodes the archive's compact MUS music format into a
// Standard MIDI File, per §4.1: "the transcoder is invoked whenever the
// first four bytes are not MThd... emits a valid SMF-0 MIDI file on a
// growable memory stream; it fails with a parse error if the compact
// stream is truncated or references invalid events."
//
// The retrieved original source calls out to an external mus2mid() with no
// body kept in the grounding pack (only its call site in psp_sound.c
// survived filtering); this package reconstructs the well-documented MUS
// wire format directly rather than guessing at C internals, and is
// cross-checked against psp_sound.c's post-transcode defaults (channel
// volume 100, pan 64, expression 127).
package mus2mid

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	musMagic    = "MUS\x1a"
	musHeaderSz = 16

	percussionChannel = 15 // MUS channel reserved for drums
	midiPercussion    = 9  // maps to MIDI channel 9

	defaultVolume    = 100
	defaultPan       = 64
	defaultExpression = 127

	ticksPerBeat = 120 // matches the SMF fallback division used elsewhere
)

// musEvent type nibble (bits 4-6 of the event byte).
const (
	evReleaseNote = iota
	evPlayNote
	evPitchBend
	evSystemEvent
	evController
	evEndOfMeasure
	evScoreEnd
	evUnused
)

// controller number -> MIDI CC, for MUS controller-change events whose
// first data byte is in [1,9]. Controller 0 is special-cased as a Program
// Change rather than a CC.
var controllerMap = [10]byte{
	0:  0,  // unused (program change handled separately)
	1:  0,  // bank select
	2:  1,  // modulation
	3:  7,  // volume
	4:  10, // pan
	5:  11, // expression
	6:  91, // reverb depth
	7:  93, // chorus depth
	8:  64, // sustain pedal
	9:  67, // soft pedal
}

// systemControllerMap maps MUS system-event numbers [10,14] to MIDI CC
// numbers for channel-mode messages.
var systemControllerMap = [15]byte{
	10: 120, // all sounds off
	11: 123, // all notes off
	12: 126, // mono mode on
	13: 127, // poly mode on
	14: 121, // reset all controllers
}

// Err wraps a transcode failure with the byte offset it occurred at.
type Err struct {
	Offset int
	Reason string
}

func (e *Err) Error() string {
	return fmt.Sprintf("mus2mid: %s (offset %d)", e.Reason, e.Offset)
}

type channelState struct {
	lastVolume byte
}

// Transcode reads a MUS byte stream and returns a serialized SMF-0 MIDI
// file. It never touches the archive or filesystem; both ends are byte
// slices in memory, per §4.1.
func Transcode(mus []byte) ([]byte, error) {
	if len(mus) < musHeaderSz || string(mus[0:4]) != musMagic {
		return nil, &Err{0, "missing MUS magic"}
	}
	scoreLen := binary.LittleEndian.Uint16(mus[4:6])
	scoreStart := binary.LittleEndian.Uint16(mus[6:8])

	if int(scoreStart) > len(mus) || int(scoreStart)+int(scoreLen) > len(mus) {
		return nil, &Err{int(scoreStart), "score extends past end of stream"}
	}

	score := mus[scoreStart : int(scoreStart)+int(scoreLen)]

	track := newTrackBuilder()
	channels := make(map[byte]*channelState)
	channelOf := func(ch byte) *channelState {
		cs, ok := channels[ch]
		if !ok {
			cs = &channelState{lastVolume: defaultVolume}
			channels[ch] = cs
		}
		return cs
	}

	pos := 0
	for {
		if pos >= len(score) {
			return nil, &Err{int(scoreStart) + pos, "score truncated before end marker"}
		}
		eventByte := score[pos]
		pos++
		last := eventByte&0x80 != 0
		evType := (eventByte >> 4) & 0x07
		musCh := eventByte & 0x0f
		midiCh := musCh
		if musCh == percussionChannel {
			midiCh = midiPercussion
		}

		switch evType {
		case evReleaseNote:
			if pos >= len(score) {
				return nil, &Err{int(scoreStart) + pos, "truncated release-note event"}
			}
			note := score[pos] & 0x7f
			pos++
			track.noteOff(midiCh, note)

		case evPlayNote:
			if pos >= len(score) {
				return nil, &Err{int(scoreStart) + pos, "truncated play-note event"}
			}
			noteByte := score[pos]
			pos++
			note := noteByte & 0x7f
			cs := channelOf(midiCh)
			if noteByte&0x80 != 0 {
				if pos >= len(score) {
					return nil, &Err{int(scoreStart) + pos, "truncated play-note volume"}
				}
				cs.lastVolume = score[pos] & 0x7f
				pos++
			}
			track.noteOn(midiCh, note, cs.lastVolume)

		case evPitchBend:
			if pos >= len(score) {
				return nil, &Err{int(scoreStart) + pos, "truncated pitch-bend event"}
			}
			bend := score[pos]
			pos++
			track.pitchBend(midiCh, bend)

		case evSystemEvent:
			if pos >= len(score) {
				return nil, &Err{int(scoreStart) + pos, "truncated system event"}
			}
			ctrl := score[pos]
			pos++
			if int(ctrl) >= len(systemControllerMap) || systemControllerMap[ctrl] == 0 {
				return nil, &Err{int(scoreStart) + pos, "invalid system controller number"}
			}
			track.controller(midiCh, systemControllerMap[ctrl], 0)

		case evController:
			if pos+1 >= len(score) {
				return nil, &Err{int(scoreStart) + pos, "truncated controller-change event"}
			}
			ctrlNum := score[pos]
			value := score[pos+1]
			pos += 2
			if ctrlNum == 0 {
				track.programChange(midiCh, value&0x7f)
			} else {
				if int(ctrlNum) >= len(controllerMap) {
					return nil, &Err{int(scoreStart) + pos, "invalid controller number"}
				}
				track.controller(midiCh, controllerMap[ctrlNum], value&0x7f)
			}

		case evEndOfMeasure:
			// no data

		case evScoreEnd:
			track.endOfTrack()
			return serializeSMF0(track.bytes.Bytes()), nil

		default:
			return nil, &Err{int(scoreStart) + pos, "unrecognized MUS event type"}
		}

		if last {
			delta, n, err := readMusTime(score[pos:])
			if err != nil {
				return nil, &Err{int(scoreStart) + pos, err.Error()}
			}
			pos += n
			track.advance(delta)
		}
	}
}

// readMusTime decodes a MUS variable-length time delta: each byte
// contributes its low 7 bits; the high bit set means another byte follows.
func readMusTime(b []byte) (uint32, int, error) {
	var value uint32
	for i, by := range b {
		value = value<<7 | uint32(by&0x7f)
		if by&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("truncated time delta")
}

// trackBuilder accumulates MTrk event bytes with VLQ deltas, mirroring the
// producer side of the SMF writer internal/midi reads.
type trackBuilder struct {
	bytes   bytes.Buffer
	pending uint32 // ticks since the last emitted event
}

func newTrackBuilder() *trackBuilder {
	return &trackBuilder{}
}

func (t *trackBuilder) advance(ticks uint32) {
	t.pending += ticks
}

func (t *trackBuilder) writeVLQDelta() {
	writeVLQ(&t.bytes, t.pending)
	t.pending = 0
}

func (t *trackBuilder) noteOn(ch, note, vel byte) {
	t.writeVLQDelta()
	t.bytes.WriteByte(0x90 | (ch & 0x0f))
	t.bytes.WriteByte(note)
	t.bytes.WriteByte(vel)
}

func (t *trackBuilder) noteOff(ch, note byte) {
	t.writeVLQDelta()
	t.bytes.WriteByte(0x80 | (ch & 0x0f))
	t.bytes.WriteByte(note)
	t.bytes.WriteByte(0)
}

func (t *trackBuilder) controller(ch, num, value byte) {
	t.writeVLQDelta()
	t.bytes.WriteByte(0xB0 | (ch & 0x0f))
	t.bytes.WriteByte(num)
	t.bytes.WriteByte(value)
}

func (t *trackBuilder) programChange(ch, program byte) {
	t.writeVLQDelta()
	t.bytes.WriteByte(0xC0 | (ch & 0x0f))
	t.bytes.WriteByte(program)
}

func (t *trackBuilder) pitchBend(ch, musBend byte) {
	t.writeVLQDelta()
	// MUS encodes bend as a signed byte centered at 128; MIDI pitch-bend is
	// a 14-bit value centered at 0x2000. Scale the 8-bit range up.
	bend := (int32(musBend) - 128) * 64
	value := uint16(0x2000 + bend)
	t.bytes.WriteByte(0xE0 | (ch & 0x0f))
	t.bytes.WriteByte(byte(value & 0x7f))
	t.bytes.WriteByte(byte((value >> 7) & 0x7f))
}

func (t *trackBuilder) endOfTrack() {
	t.writeVLQDelta()
	t.bytes.WriteByte(0xFF)
	t.bytes.WriteByte(0x2F)
	t.bytes.WriteByte(0x00)
}

func writeVLQ(buf *bytes.Buffer, value uint32) {
	var stack [5]byte
	n := 0
	stack[n] = byte(value & 0x7f)
	n++
	value >>= 7
	for value > 0 {
		stack[n] = byte(value&0x7f) | 0x80
		n++
		value >>= 7
	}
	for i := n - 1; i >= 0; i-- {
		buf.WriteByte(stack[i])
	}
}

// serializeSMF0 wraps trackData in a single-track SMF-0 file header.
func serializeSMF0(trackData []byte) []byte {
	var out bytes.Buffer
	out.WriteString("MThd")
	binary.Write(&out, binary.BigEndian, uint32(6))
	binary.Write(&out, binary.BigEndian, uint16(0)) // format 0
	binary.Write(&out, binary.BigEndian, uint16(1)) // one track
	binary.Write(&out, binary.BigEndian, uint16(ticksPerBeat))

	out.WriteString("MTrk")
	binary.Write(&out, binary.BigEndian, uint32(len(trackData)))
	out.Write(trackData)
	return out.Bytes()
}

// channel defaults mirror psp_sound.c's post-registration reset, kept here
// only as documentation for callers that want to pre-seed a sequencer
// before the first dispatched controller-change event.
const (
	DefaultVolume    = defaultVolume
	DefaultPan       = defaultPan
	DefaultExpression = defaultExpression
)

// Package genmidi parses the archive's GENMIDI patch bank lump and binds a
// patch's register image onto an OPL2 channel.
package genmidi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
)

const (
	magic      = "#OPL_II#"
	headerSize = 8
	numInstrs  = 175
	numMelodic = 128
	recordSize = 36
	voiceSize  = 16 // 6 (modulator) + 1 (feedback) + 6 (carrier) + 1 (unused) + 2 (base_note_offset)

	// FlagFixedPitch and FlagDualVoice are bits in Patch.Flags.
	FlagFixedPitch = 0x0001
	FlagDualVoice  = 0x0004
)

// Voice is one operator pair's register image, as stored in the bank.
type Voice struct {
	Mod      Registers
	Feedback uint8
	Car      Registers
	// BaseNoteOffset is a signed semitone offset applied to the sounding
	// note when this voice is used (§3 "Instrument Patch").
	BaseNoteOffset int16
}

// Registers is one operator's unpacked six-byte register image.
type Registers struct {
	Mult, Ksl, Tl, Ar, Dr, Sl, Rr uint8
	Am, Vib, Egt, Ksr             bool
	Ws                            opl2.Waveform
}

// Feedback and Cnt derived from Voice.Feedback per §4.5 "Binding".
func (v Voice) Fb() uint8  { return (v.Feedback >> 1) & 7 }
func (v Voice) Cnt() uint8 { return v.Feedback & 1 }

// Patch is one instrument bank entry: two voices plus fixed-pitch metadata.
type Patch struct {
	Flags      uint16
	FineTuning uint8
	FixedNote  uint8
	Voices     [2]Voice
}

func (p Patch) FixedPitch() bool { return p.Flags&FlagFixedPitch != 0 }
func (p Patch) DualVoice() bool  { return p.Flags&FlagDualVoice != 0 }

// Bank is the parsed 175-entry instrument bank: 128 melodic (GM program
// 0-127) followed by 47 percussion entries (MIDI keys 35-81).
type Bank struct {
	Patches [numInstrs]Patch
}

// Parse validates the magic and unpacks all 175 patch records field-by-field
// (per §9 "raw byte parsing", avoiding a cast of a packed struct over the
// lump on strict-alignment targets).
func Parse(lump []byte) (*Bank, error) {
	want := headerSize + numInstrs*recordSize
	if len(lump) < want {
		return nil, fmt.Errorf("genmidi: lump too short: have %d bytes, want at least %d", len(lump), want)
	}
	if !bytes.Equal(lump[:headerSize], []byte(magic)) {
		return nil, fmt.Errorf("genmidi: bad magic %q", lump[:headerSize])
	}

	b := &Bank{}
	r := bytes.NewReader(lump[headerSize:])
	for i := 0; i < numInstrs; i++ {
		p, err := parsePatch(r)
		if err != nil {
			return nil, fmt.Errorf("genmidi: patch %d: %w", i, err)
		}
		b.Patches[i] = p
	}
	return b, nil
}

func parsePatch(r *bytes.Reader) (Patch, error) {
	var p Patch
	var fields struct {
		Flags      uint16
		FineTuning uint8
		FixedNote  uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
		return p, err
	}
	p.Flags = fields.Flags
	p.FineTuning = fields.FineTuning
	p.FixedNote = fields.FixedNote

	for v := 0; v < 2; v++ {
		voice, err := parseVoice(r)
		if err != nil {
			return p, err
		}
		p.Voices[v] = voice
	}
	return p, nil
}

// parseVoice reads one 16-byte voice record: 6-byte modulator register
// image, 1-byte feedback, 6-byte carrier register image, 1 unused byte, then
// a little-endian signed 16-bit base note offset (§6.2 "Patch bank lump").
func parseVoice(r *bytes.Reader) (Voice, error) {
	var raw [voiceSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Voice{}, err
	}

	offset := int16(binary.LittleEndian.Uint16(raw[14:16]))

	return Voice{
		Mod:            unpackRegisters(raw[0:6]),
		Feedback:       raw[6],
		Car:            unpackRegisters(raw[7:13]),
		BaseNoteOffset: offset,
	}, nil
}

// unpackRegisters decodes a 6-byte operator register image per §4.5
// "Binding": tremolo byte -> (am,vib,egt,ksr,mult); attack byte -> (ar,dr);
// sustain byte -> (sl,rr); waveform byte -> ws; scale byte -> (ksl,tl).
// The 6th byte is unused padding in this bank layout.
func unpackRegisters(b []byte) Registers {
	tremolo := b[0]
	attack := b[1]
	sustain := b[2]
	waveform := b[3]
	scale := b[4]

	return Registers{
		Am:   tremolo&0x80 != 0,
		Vib:  tremolo&0x40 != 0,
		Egt:  tremolo&0x20 != 0,
		Ksr:  tremolo&0x10 != 0,
		Mult: tremolo & 0x0F,
		Ar:   (attack >> 4) & 0x0F,
		Dr:   attack & 0x0F,
		Sl:   (sustain >> 4) & 0x0F,
		Rr:   sustain & 0x0F,
		Ws:   opl2.Waveform(waveform & 0x03),
		Ksl:  (scale >> 6) & 0x03,
		Tl:   scale & 0x3F,
	}
}

// IndexForDrum maps a percussion note (MIDI channel 9) to its bank index,
// per §4.5 step 1: "bank index 128 + (note - 35)". ok is false when the
// note falls outside the 47 mapped drum keys (35-81).
func IndexForDrum(note int) (index int, ok bool) {
	idx := numMelodic + (note - 35)
	if idx < numMelodic || idx >= numInstrs {
		return 0, false
	}
	return idx, true
}

// IndexForProgram clamps a channel's program number to the melodic range.
func IndexForProgram(program int) int {
	if program < 0 {
		return 0
	}
	if program >= numMelodic {
		return numMelodic - 1
	}
	return program
}

// Bind programs an OPL2 channel's operators from voice 0 of a patch, per
// §4.5 "Binding" (dual-voice patches still only sound voice 0 in this
// design; voice 1's registers remain parsed and available on Patch for a
// future layering extension, per SPEC_FULL.md's supplement note).
func Bind(ch *opl2.Channel, p Patch) {
	v := p.Voices[0]
	ch.Mod.Bind(v.Mod.Mult, v.Mod.Ksl, v.Mod.Tl, v.Mod.Ar, v.Mod.Dr, v.Mod.Sl, v.Mod.Rr, v.Mod.Am, v.Mod.Vib, v.Mod.Egt, v.Mod.Ksr, v.Mod.Ws)
	ch.Car.Bind(v.Car.Mult, v.Car.Ksl, v.Car.Tl, v.Car.Ar, v.Car.Dr, v.Car.Sl, v.Car.Rr, v.Car.Am, v.Car.Vib, v.Car.Egt, v.Car.Ksr, v.Car.Ws)
	ch.Fb = v.Fb()
	ch.Cnt = v.Cnt()
	ch.VolAtten = 0
}

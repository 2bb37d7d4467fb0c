package engine

import (
	"math"

	"github.com/retrohandheld/doom-audio-engine/internal/genmidi"
	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
)

// Engine implements sequencer.Dispatcher: the sequencer hands it events by
// tick, Engine turns them into patch lookups, voice allocation, and OPL2
// register writes (§4.5).

// NoteOn implements §4.5's voice allocation steps 1-6. Velocity-0 NOTE_ONs
// are routed to NoteOff defensively, though the sequencer already does this
// translation before dispatch.
func (e *Engine) NoteOn(channel, note, velocity uint8) {
	if velocity == 0 {
		e.NoteOff(channel, note)
		return
	}
	if e.bank == nil {
		return
	}

	var patchIdx int
	if channel == drumChannel {
		idx, ok := genmidi.IndexForDrum(int(note))
		if !ok {
			return
		}
		patchIdx = idx
	} else {
		patchIdx = genmidi.IndexForProgram(int(e.channelProgram[channel]))
	}
	patch := e.bank.Patches[patchIdx]

	v := e.alloc.Allocate(channel, note, velocity)
	ch := &e.chip.Channels[v.FMCh]
	genmidi.Bind(ch, patch)

	soundingNote := int(note)
	if patch.FixedPitch() {
		soundingNote = int(patch.FixedNote)
	} else {
		fine := int(math.Round(float64(int(patch.FineTuning)-128) / 64))
		soundingNote = int(note) + int(patch.Voices[0].BaseNoteOffset) + fine
	}
	soundingNote = clamp(soundingNote, 0, 127)
	fnum, block := opl2.NoteToFnum(soundingNote)

	combined := int(velocity) * int(e.channelVolume[channel]) * int(e.channelExpression[channel]) / (127 * 127)
	combined = clamp(combined, 0, 127)
	rawAtten := (127 - combined) * 48 / 127
	ch.VolAtten = int32(rawAtten) << 3

	e.chip.KeyOn(v.FMCh, fnum, block)
}

// NoteOff key-offs every voice matching (channel, note).
func (e *Engine) NoteOff(channel, note uint8) {
	e.alloc.Release(channel, note)
}

// Control applies the controller changes the engine cares about: channel
// volume (CC7), expression (CC11), and all-sound/all-notes-off (CC120/123).
// Other controller numbers are accepted (per the MUS/MIDI controller map)
// but have no effect on OPL2 playback.
func (e *Engine) Control(channel, controller, value uint8) {
	switch controller {
	case 7:
		e.channelVolume[channel] = value
	case 11:
		e.channelExpression[channel] = value
	case 120, 123:
		e.alloc.ReleaseChannel(channel)
	}
}

// Program records the channel's current patch selection for the next
// NoteOn.
func (e *Engine) Program(channel, program uint8) {
	e.channelProgram[channel] = program
}

// PitchBend is accepted but never applied, per spec's explicit non-goal.
func (e *Engine) PitchBend(channel uint8, value uint16) {}

// ResetDefaults silences every voice and restores channel volume/expression
// to (100, 127), per the loop-reset contract (§4.3).
func (e *Engine) ResetDefaults() {
	e.alloc.Reset()
	e.resetChannelDefaults()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

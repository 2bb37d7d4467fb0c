// Package voices maps (MIDI channel, note) pairs onto the OPL2 chip's
// physical FM channels, with the free/release/steal allocation priority and
// monotonic-age voice-stealing of spec §4.5. An allocator may be given a
// polyphony ceiling below the chip's full channel count, reserving the
// remaining channels from music voice-stealing entirely.
package voices

import "github.com/retrohandheld/doom-audio-engine/internal/opl2"

// Voice is one active (MIDI channel, note) -> FM channel binding, per §3
// "Active Voice".
type Voice struct {
	Active   bool
	MIDICh   uint8
	Note     uint8
	FMCh     int
	Velocity uint8
	Age      uint64
}

// Allocator owns the fixed-size voice table (at most one active voice per
// physical FM channel) and the monotonic age counter used to break ties
// when stealing.
type Allocator struct {
	chip   *opl2.Chip
	voices [opl2.Channels]Voice
	limit  int // usable prefix of voices, 1..opl2.Channels
	ageSeq uint64
}

// New returns an allocator bound to chip, using every physical FM channel.
// chip is keyed off so key-on/off calls issued by the allocator land on the
// right physical channels.
func New(chip *opl2.Chip) *Allocator {
	return NewWithCeiling(chip, opl2.Channels)
}

// NewWithCeiling returns an allocator that only ever allocates the first
// ceiling of the chip's physical FM channels, clamped to [1, opl2.Channels].
// The remaining channels are left permanently idle, reserved from music
// voice-stealing.
func NewWithCeiling(chip *opl2.Chip, ceiling int) *Allocator {
	if ceiling <= 0 || ceiling > opl2.Channels {
		ceiling = opl2.Channels
	}
	return &Allocator{chip: chip, limit: ceiling}
}

// Reset deactivates every voice and key-offs every FM channel, used by
// stop_song and by loop wraparound (§4.3, §8 "After stop_song()").
func (a *Allocator) Reset() {
	for i := 0; i < a.limit; i++ {
		a.voices[i] = Voice{}
		a.chip.KeyOff(i)
	}
}

// ResetAge restarts the monotonic age counter, matching the original's
// I_PlaySong reseeding age_counter to 0 on every play (SPEC_FULL.md §4.3
// supplement).
func (a *Allocator) ResetAge() {
	a.ageSeq = 0
}

// Allocate implements §4.5 step 2's three-tier priority:
//
//	(a) any channel whose both operators are OFF;
//	(b) a channel already held by the same MIDI channel whose carrier is
//	    in RELEASE or OFF (key-off that voice first);
//	(c) the channel with the lowest monotonic age (voice-steal, key-off
//	    first).
func (a *Allocator) Allocate(midiCh, note, velocity uint8) *Voice {
	if idx, ok := a.findFree(); ok {
		return a.install(idx, midiCh, note, velocity)
	}
	if idx, ok := a.findSameChannelReleased(midiCh); ok {
		a.chip.KeyOff(idx)
		return a.install(idx, midiCh, note, velocity)
	}
	idx := a.findOldest()
	a.chip.KeyOff(idx)
	return a.install(idx, midiCh, note, velocity)
}

func (a *Allocator) findFree() (int, bool) {
	for i := 0; i < a.limit; i++ {
		if a.chip.Channels[i].Silent() {
			return i, true
		}
	}
	return 0, false
}

func (a *Allocator) findSameChannelReleased(midiCh uint8) (int, bool) {
	for i := 0; i < a.limit; i++ {
		v := &a.voices[i]
		if !v.Active || v.MIDICh != midiCh {
			continue
		}
		stage := a.chip.Channels[i].Car.Stage
		if stage == opl2.StageRelease || stage == opl2.StageOff {
			return i, true
		}
	}
	return 0, false
}

func (a *Allocator) findOldest() int {
	oldest := 0
	for i := 0; i < a.limit; i++ {
		if !a.voices[i].Active {
			return i
		}
		if a.voices[i].Age < a.voices[oldest].Age {
			oldest = i
		}
	}
	return oldest
}

func (a *Allocator) install(idx int, midiCh, note, velocity uint8) *Voice {
	a.ageSeq++
	a.voices[idx] = Voice{
		Active:   true,
		MIDICh:   midiCh,
		Note:     note,
		FMCh:     idx,
		Velocity: velocity,
		Age:      a.ageSeq,
	}
	return &a.voices[idx]
}

// Release key-offs every active voice matching (midiCh, note). Multiple
// simultaneous matches are legal and all are released, per §4.5's
// NOTE_OFF rule.
func (a *Allocator) Release(midiCh, note uint8) {
	for i := 0; i < a.limit; i++ {
		v := &a.voices[i]
		if v.Active && v.MIDICh == midiCh && v.Note == note {
			a.chip.KeyOff(i)
			v.Active = false
		}
	}
}

// ReleaseChannel key-offs every active voice on midiCh, for CONTROL 120/123
// (all sound off / all notes off).
func (a *Allocator) ReleaseChannel(midiCh uint8) {
	for i := 0; i < a.limit; i++ {
		v := &a.voices[i]
		if v.Active && v.MIDICh == midiCh {
			a.chip.KeyOff(i)
			v.Active = false
		}
	}
}

// Active returns a copy of every currently allocated voice (empty when none
// is), for diagnostics and tests.
func (a *Allocator) Active() []Voice {
	var out []Voice
	for i := 0; i < a.limit; i++ {
		if a.voices[i].Active {
			out = append(out, a.voices[i])
		}
	}
	return out
}

// Find returns the active voice for (midiCh, note), if any.
func (a *Allocator) Find(midiCh, note uint8) (*Voice, bool) {
	for i := 0; i < a.limit; i++ {
		v := &a.voices[i]
		if v.Active && v.MIDICh == midiCh && v.Note == note {
			return v, true
		}
	}
	return nil, false
}

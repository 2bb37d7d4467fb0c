// Package sequencer drives a parsed MIDI event list against a rational
// sample-accumulator clock, per §4.3. It owns tempo and looping; it knows
// nothing about FM synthesis or voice allocation, only about handing
// dispatched events to a Dispatcher.
package sequencer

import "github.com/retrohandheld/doom-audio-engine/internal/midi"

// defaultUsPerBeat is substituted when a song carries no tick-0 tempo
// event, matching psp_sound.c's post-reset default (120 BPM).
const defaultUsPerBeat = 500000

// Dispatcher receives events as the sequencer's clock reaches their tick.
// The engine implements this to route events into voice allocation, OPL2
// register writes, and per-channel controller state.
type Dispatcher interface {
	NoteOn(channel, note, velocity uint8)
	NoteOff(channel, note uint8)
	Control(channel, controller, value uint8)
	Program(channel, program uint8)
	// PitchBend is delivered for completeness (§4.2 parses it) but per
	// spec.md's explicit non-goal is never expected to retune a voice.
	PitchBend(channel uint8, value uint16)
	// ResetDefaults silences every active voice and restores channel
	// volume/expression to (100, 127), per §4.3's loop-reset contract.
	ResetDefaults()
}

// Sequencer is a fixed-tempo clock over a flat, pre-sorted event list.
type Sequencer struct {
	events []midi.Event

	ticksPerBeat uint32
	outputRate   uint32

	usPerBeat        uint32
	initialUsPerBeat uint32

	// Rational accumulator per §4.3: advance accum by samples*denominator
	// each block; step a tick whenever accum >= numerator.
	numerator   uint64 // usPerBeat * outputRate
	denominator uint64 // ticksPerBeat * 1_000_000
	accum       uint64

	currentTick  uint32
	nextEventIdx int

	playing bool
	looping bool

	dispatcher Dispatcher
}

// New builds a Sequencer over events (already flattened and stably sorted
// by internal/midi), ticking at ticksPerBeat against outputRate output
// samples per second, dispatching through d.
func New(events []midi.Event, ticksPerBeat uint16, outputRate uint32, d Dispatcher) *Sequencer {
	initial := uint32(defaultUsPerBeat)
	for _, ev := range events {
		if ev.Kind == midi.Tempo && ev.Tick == 0 {
			initial = ev.UsPerBeat
			break
		}
	}
	s := &Sequencer{
		events:           events,
		ticksPerBeat:     uint32(ticksPerBeat),
		outputRate:       outputRate,
		usPerBeat:        initial,
		initialUsPerBeat: initial,
		denominator:      uint64(ticksPerBeat) * 1_000_000,
		dispatcher:       d,
	}
	s.recompute()
	return s
}

// SetLooping configures whether Advance resets to the start of the song
// instead of stopping when the last event has been dispatched.
func (s *Sequencer) SetLooping(loop bool) { s.looping = loop }

// Play marks the sequencer active; Advance is a no-op while not playing.
func (s *Sequencer) Play() { s.playing = true }

// Stop halts playback without resetting cursor state, matching pause_song's
// "halt" contract.
func (s *Sequencer) Stop() { s.playing = false }

// Reset halts playback and rewinds the cursor to the start of the song,
// restoring the initial tempo, matching stop_song's "reset" contract (§6.1).
func (s *Sequencer) Reset() {
	s.playing = false
	s.currentTick = 0
	s.accum = 0
	s.nextEventIdx = 0
	s.usPerBeat = s.initialUsPerBeat
	s.recompute()
}

// Playing reports whether the sequencer is actively dispatching.
func (s *Sequencer) Playing() bool { return s.playing }

// CurrentTick exposes the clock's absolute tick, for diagnostics/tests.
func (s *Sequencer) CurrentTick() uint32 { return s.currentTick }

func (s *Sequencer) recompute() {
	s.numerator = uint64(s.usPerBeat) * uint64(s.outputRate)
}

// Advance consumes samples output samples' worth of clock time: it updates
// the tick accumulator and dispatches every event whose tick has now been
// reached, per §4.3's `advance(samples)` contract. A dispatched TEMPO event
// immediately recomputes the accumulator's numerator, per spec.md §9.
func (s *Sequencer) Advance(samples uint32) {
	if !s.playing {
		return
	}
	s.accum += uint64(samples) * s.denominator
	for s.numerator > 0 && s.accum >= s.numerator {
		s.accum -= s.numerator
		s.currentTick++
		s.dispatchDue()
		if !s.playing {
			return
		}
	}
}

func (s *Sequencer) dispatchDue() {
	for s.nextEventIdx < len(s.events) && s.events[s.nextEventIdx].Tick <= s.currentTick {
		s.dispatch(s.events[s.nextEventIdx])
		s.nextEventIdx++
	}
	if s.nextEventIdx >= len(s.events) {
		s.onSongExhausted()
	}
}

func (s *Sequencer) dispatch(ev midi.Event) {
	switch ev.Kind {
	case midi.NoteOn:
		if ev.Data2 == 0 {
			// A NOTE_ON with velocity 0 is a NOTE_OFF in disguise, the
			// conventional SMF convention; honored here since the parser
			// itself does not special-case it.
			s.dispatcher.NoteOff(ev.Channel, ev.Data1)
		} else {
			s.dispatcher.NoteOn(ev.Channel, ev.Data1, ev.Data2)
		}
	case midi.NoteOff:
		s.dispatcher.NoteOff(ev.Channel, ev.Data1)
	case midi.Control:
		s.dispatcher.Control(ev.Channel, ev.Data1, ev.Data2)
	case midi.Program:
		s.dispatcher.Program(ev.Channel, ev.Data1)
	case midi.PitchBend:
		value := uint16(ev.Data1) | uint16(ev.Data2)<<7
		s.dispatcher.PitchBend(ev.Channel, value)
	case midi.Tempo:
		s.usPerBeat = ev.UsPerBeat
		s.recompute()
	}
}

// onSongExhausted implements §4.3's end-of-song contract.
func (s *Sequencer) onSongExhausted() {
	if s.looping {
		s.dispatcher.ResetDefaults()
		s.currentTick = 0
		s.accum = 0
		s.nextEventIdx = 0
		s.usPerBeat = s.initialUsPerBeat
		s.recompute()
		return
	}
	s.playing = false
}

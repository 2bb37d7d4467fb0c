// Package engine wires the archive, patch bank, OPL2 chip, voice allocator,
// SFX mixer, and sequencer into the game-facing API of §6.1, and runs the
// single audio thread of §4.7.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/retrohandheld/doom-audio-engine/internal/archive"
	"github.com/retrohandheld/doom-audio-engine/internal/dac"
	"github.com/retrohandheld/doom-audio-engine/internal/genmidi"
	"github.com/retrohandheld/doom-audio-engine/internal/midi"
	"github.com/retrohandheld/doom-audio-engine/internal/mus2mid"
	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
	"github.com/retrohandheld/doom-audio-engine/internal/sequencer"
	"github.com/retrohandheld/doom-audio-engine/internal/sfx"
	"github.com/retrohandheld/doom-audio-engine/internal/voices"
)

// drumChannel is the MIDI percussion channel (§4.5 step 1).
const drumChannel = 9

const (
	defaultChannelVolume     = 100
	defaultChannelExpression = 127
)

// SongHandle is the opaque handle register_song hands back, per §6.1. The
// zero value is never issued and is safe to treat as "no song".
type SongHandle uint64

type song struct {
	events       []midi.Event
	ticksPerBeat uint16
}

// Engine is the top-level object a host constructs once and drives through
// §6.1's operations.
type Engine struct {
	logger *log.Logger
	cfg    Config

	lumps *archive.Cache
	bank  *genmidi.Bank

	chip  *opl2.Chip
	alloc *voices.Allocator

	mixer   *sfx.Mixer
	sfxLock *semaphore.Weighted

	dac dac.Sink

	channelVolume     [16]uint8
	channelExpression [16]uint8
	channelProgram    [16]uint8

	songsMu       sync.Mutex
	songs         map[SongHandle]*song
	nextHandle    uint64
	currentHandle atomic.Uint64

	seq atomic.Pointer[sequencer.Sequencer]

	running atomic.Bool
	done    chan struct{}
}

// New builds an engine reading lumps through lumps and writing mixed audio
// to sink. cfg's volumes are applied immediately.
func New(lumps archive.LumpSource, sink dac.Sink, cfg Config) *Engine {
	logger := log.New(os.Stderr)
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	e := &Engine{
		logger:  logger,
		cfg:     cfg,
		lumps:   archive.NewCache(lumps),
		chip:    opl2.New(),
		mixer:   sfx.New(),
		sfxLock: semaphore.NewWeighted(1),
		dac:     sink,
		songs:   make(map[SongHandle]*song),
	}
	e.alloc = voices.NewWithCeiling(e.chip, cfg.PolyphonyCeiling)
	e.resetChannelDefaults()
	e.chip.SetMusicVolume(cfg.MusicVolume)
	e.mixer.SetGlobalVolume(cfg.SFXVolume)
	return e
}

func (e *Engine) resetChannelDefaults() {
	for i := range e.channelVolume {
		e.channelVolume[i] = defaultChannelVolume
		e.channelExpression[i] = defaultChannelExpression
		e.channelProgram[i] = 0
	}
}

// InitSound starts the audio thread. useSFXPrefix is accepted for interface
// parity with the reference API but ignored: the archive adapter always
// applies the `ds` lump-name prefix (§4.1).
func (e *Engine) InitSound(useSFXPrefix bool) error {
	if e.running.Swap(true) {
		return fmt.Errorf("engine: sound already initialized")
	}
	e.done = make(chan struct{})
	go e.audioThread()
	e.logger.Info("audio thread started", "output_rate", e.cfg.OutputRate, "mix_samples", e.cfg.MixSamples)
	return nil
}

// ShutdownSound stops the audio thread and releases the DAC, per §5's
// "Cancellation and shutdown".
func (e *Engine) ShutdownSound() error {
	if !e.running.Swap(false) {
		return nil
	}
	<-e.done
	return e.dac.Close()
}

// GetSFXLumpNum resolves a sound's archive lump id via the `ds<name>`
// naming convention (§4.1).
func (e *Engine) GetSFXLumpNum(sfxName string) (int, error) {
	return e.lumps.Lookup(archive.SFXLumpName(sfxName))
}

// StartSound begins playback of sfxName, per §4.6. channelHint in [0,8)
// pins a slot; any other value picks the first idle slot, else steals slot
// 0.
func (e *Engine) StartSound(sfxName string, channelHint int, vol, sep uint8) (uint32, error) {
	id, err := e.GetSFXLumpNum(sfxName)
	if err != nil {
		return 0, err
	}
	data, err := e.lumps.Get(id)
	if err != nil {
		return 0, err
	}
	lump, err := archive.ParseSFXLump(data)
	if err != nil {
		return 0, err
	}
	step := sfx.Step16_16(uint32(lump.Rate), e.cfg.OutputRate)

	ctx := context.Background()
	e.sfxLock.Acquire(ctx, 1)
	handle := e.mixer.Start(lump.PCM, step, channelHint, vol, sep)
	e.sfxLock.Release(1)
	return handle, nil
}

// StopSound deactivates the channel matching handle (no-op if none).
func (e *Engine) StopSound(handle uint32) {
	ctx := context.Background()
	e.sfxLock.Acquire(ctx, 1)
	e.mixer.Stop(handle)
	e.sfxLock.Release(1)
}

// SoundIsPlaying reports whether handle is still active.
func (e *Engine) SoundIsPlaying(handle uint32) bool {
	ctx := context.Background()
	e.sfxLock.Acquire(ctx, 1)
	playing := e.mixer.IsPlaying(handle)
	e.sfxLock.Release(1)
	return playing
}

// UpdateSoundParams updates an active channel's volume/separation; observed
// on the mix loop's next sample (§5).
func (e *Engine) UpdateSoundParams(handle uint32, vol, sep uint8) {
	ctx := context.Background()
	e.sfxLock.Acquire(ctx, 1)
	e.mixer.UpdateParams(handle, vol, sep)
	e.sfxLock.Release(1)
}

// InitMusic loads the GENMIDI patch bank.
func (e *Engine) InitMusic() error {
	data, err := e.lumps.GetByName(e.cfg.GenMidiLumpName)
	if err != nil {
		return fmt.Errorf("engine: init music: %w", err)
	}
	bank, err := genmidi.Parse(data)
	if err != nil {
		return fmt.Errorf("engine: init music: %w", err)
	}
	e.bank = bank
	return nil
}

// ShutdownMusic stops any playing song and drops the patch bank.
func (e *Engine) ShutdownMusic() {
	e.StopSong()
	e.bank = nil
}

// SetMusicVolume sets the master music level (0-127).
func (e *Engine) SetMusicVolume(v int) {
	e.chip.SetMusicVolume(v)
}

// RegisterSong parses data (Standard MIDI or the compact archive format,
// transcoded on entry per §4.1) and returns a handle for play_song. If the
// patch bank is not loaded yet it is loaded first; a missing or invalid bank
// fails the call.
func (e *Engine) RegisterSong(data []byte) (SongHandle, error) {
	if e.bank == nil {
		if err := e.InitMusic(); err != nil {
			return 0, fmt.Errorf("engine: register song: %w", err)
		}
	}
	smf := data
	if len(data) < 4 || string(data[0:4]) != "MThd" {
		transcoded, err := mus2mid.Transcode(data)
		if err != nil {
			return 0, fmt.Errorf("engine: register song: %w", err)
		}
		smf = transcoded
	}
	res, err := midi.Parse(smf)
	if err != nil {
		return 0, fmt.Errorf("engine: register song: %w", err)
	}

	e.songsMu.Lock()
	e.nextHandle++
	handle := SongHandle(e.nextHandle)
	e.songs[handle] = &song{events: res.Events, ticksPerBeat: res.TicksPerBeat}
	e.songsMu.Unlock()
	return handle, nil
}

// UnregisterSong stops handle if it is currently playing and frees it.
func (e *Engine) UnregisterSong(handle SongHandle) error {
	if SongHandle(e.currentHandle.Load()) == handle {
		e.StopSong()
	}
	e.songsMu.Lock()
	defer e.songsMu.Unlock()
	if _, ok := e.songs[handle]; !ok {
		return fmt.Errorf("engine: unregister song: unknown handle")
	}
	delete(e.songs, handle)
	return nil
}

// PlaySong starts handle from tick 0, per §6.1. The previous song (if any)
// is stopped first; voice state is reset so the new song starts silent.
func (e *Engine) PlaySong(handle SongHandle, looping bool) error {
	e.songsMu.Lock()
	s, ok := e.songs[handle]
	e.songsMu.Unlock()
	if !ok {
		return fmt.Errorf("engine: play song: unknown handle")
	}

	if old := e.seq.Load(); old != nil {
		old.Stop()
	}
	e.alloc.Reset()
	e.alloc.ResetAge()
	e.resetChannelDefaults()

	next := sequencer.New(s.events, s.ticksPerBeat, e.cfg.OutputRate, e)
	next.SetLooping(looping)
	next.Play()
	e.seq.Store(next)
	e.currentHandle.Store(uint64(handle))
	return nil
}

// PauseSong halts playback without resetting the cursor.
func (e *Engine) PauseSong() {
	if s := e.seq.Load(); s != nil {
		s.Stop()
	}
}

// ResumeSong resumes playback from wherever it was paused.
func (e *Engine) ResumeSong() {
	if s := e.seq.Load(); s != nil {
		s.Play()
	}
}

// StopSong halts playback, rewinds the cursor, and silences every voice.
func (e *Engine) StopSong() {
	if s := e.seq.Load(); s != nil {
		s.Reset()
	}
	e.alloc.Reset()
}

// MusicIsPlaying reports whether a song is actively dispatching.
func (e *Engine) MusicIsPlaying() bool {
	s := e.seq.Load()
	return s != nil && s.Playing()
}

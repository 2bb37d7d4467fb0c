package engine

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/retrohandheld/doom-audio-engine/internal/dac"
)

// fakeSource is an in-memory archive.LumpSource fixture.
type fakeSource struct {
	names map[string]int
	lumps map[int][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{names: make(map[string]int), lumps: make(map[int][]byte)}
}

func (f *fakeSource) add(name string, data []byte) int {
	id := len(f.lumps) + 1
	f.names[name] = id
	f.lumps[id] = data
	return id
}

func (f *fakeSource) LookupLumpByName(name string) (int, error) {
	id, ok := f.names[name]
	if !ok {
		return 0, errMissing{name}
	}
	return id, nil
}

func (f *fakeSource) CacheLump(id int) ([]byte, error) { return f.lumps[id], nil }
func (f *fakeSource) LumpLength(id int) (int, error)   { return len(f.lumps[id]), nil }

type errMissing struct{ name string }

func (e errMissing) Error() string { return "missing lump: " + e.name }

// buildGENMIDI constructs a minimal-but-valid 175-patch bank where every
// patch is a silent sine voice, except melodic patch 0 which is audible
// (used to drive a note through a full NoteOn without needing real register
// values), and drum patches at bank indices 128 (note 35) and 174 (note 81)
// mirror it.
func buildGENMIDI() []byte {
	buf := make([]byte, 8+175*36)
	copy(buf, "#OPL_II#")
	// A single 16-byte voice record with identical, self-terminating
	// modulator and carrier envelopes (ar=10, dr=4, sl=0, rr=8, percussive),
	// feedback/algorithm 0 (FM, carrier-only output), waveform 0, no KSL/TL
	// attenuation, no base-note offset.
	voice := []byte{
		0x01, 0xA4, 0x08, 0x00, 0x00, 0x00, // modulator
		0x00,                               // feedback/cnt
		0x01, 0xA4, 0x08, 0x00, 0x00, 0x00, // carrier
		0x00,       // unused
		0x00, 0x00, // base_note_offset
	}
	writePatch := func(idx int) {
		off := 8 + idx*36
		binary.LittleEndian.PutUint16(buf[off:], 0)   // flags
		buf[off+2] = 0                                // fine_tuning
		buf[off+3] = 0                                // fixed_note
		copy(buf[off+4:off+4+16], voice)              // voice 0
		copy(buf[off+20:off+20+16], voice)             // voice 1
	}
	writePatch(0)
	writePatch(128) // drum index for note 35
	writePatch(174) // drum index for note 81
	return buf
}

func buildSFXLump(rate uint16, pcm []byte) []byte {
	buf := make([]byte, 8+len(pcm))
	binary.LittleEndian.PutUint16(buf[0:], 3)
	binary.LittleEndian.PutUint16(buf[2:], rate)
	binary.LittleEndian.PutUint32(buf[4:], uint32(8+len(pcm)))
	copy(buf[8:], pcm)
	return buf
}

func newTestEngine(t *testing.T, src *fakeSource) (*Engine, *dac.RecordingSink) {
	t.Helper()
	sink := &dac.RecordingSink{}
	cfg := DefaultConfig()
	cfg.OutputRate = 48000
	cfg.MixSamples = 64
	e := New(src, sink, cfg)
	if err := e.InitMusic(); err != nil {
		t.Fatalf("InitMusic: %v", err)
	}
	return e, sink
}

func TestSilentStartupProducesZeroOutput(t *testing.T) {
	src := newFakeSource()
	src.add("GENMIDI", buildGENMIDI())
	e, sink := newTestEngine(t, src)

	if err := e.InitSound(true); err != nil {
		t.Fatalf("InitSound: %v", err)
	}
	// Let the audio thread render several blocks; NullSink/RecordingSink
	// never block, so this easily produces far more than ten. ShutdownSound
	// joins the thread, so reading sink.Frames afterward is race-free.
	time.Sleep(20 * time.Millisecond)
	if err := e.ShutdownSound(); err != nil {
		t.Fatalf("ShutdownSound: %v", err)
	}
	if len(sink.Frames) < 10*e.cfg.MixSamples*2 {
		t.Fatalf("expected at least ten mix blocks rendered, got %d samples", len(sink.Frames))
	}
	for i, v := range sink.Frames {
		if v != 0 {
			t.Fatalf("expected silent output, got nonzero sample %d at index %d", v, i)
		}
	}
}

func TestSingleSFXPansAndDeactivates(t *testing.T) {
	src := newFakeSource()
	src.add("GENMIDI", buildGENMIDI())
	src.add("dsTEST", buildSFXLump(11025, []byte{128, 200, 56, 128}))
	e, _ := newTestEngine(t, src)

	id, err := e.GetSFXLumpNum("TEST")
	if err != nil {
		t.Fatalf("GetSFXLumpNum: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected nonzero lump id")
	}
	handle, err := e.StartSound("TEST", 0, 127, 128)
	if err != nil {
		t.Fatalf("StartSound: %v", err)
	}
	if handle == 0 {
		t.Fatalf("expected nonzero handle")
	}
	if !e.SoundIsPlaying(handle) {
		t.Fatalf("expected handle to be playing immediately after StartSound")
	}

	frames := 0
	var firstL, firstR int32
	for e.SoundIsPlaying(handle) && frames < 1000 {
		l, r := e.mixer.Mix()
		if firstL == 0 && firstR == 0 {
			firstL, firstR = l, r
		}
		frames++
	}
	// The first non-silent frame reads pcm 200: (200-128)<<7 = 9216 at full
	// volume, panned by sep=128 to 9216*127/255 = 4589 left and
	// 9216*128/255 = 4626 right.
	if firstL != 4589 || firstR != 4626 {
		t.Fatalf("expected first non-silent frame panned to (4589, 4626), got (%d, %d)", firstL, firstR)
	}
	// 4 source samples at 11025Hz resampled to 48000Hz drain in ~17 output
	// frames (4 * 48000/11025 ~= 17.4).
	if frames < 10 || frames > 25 {
		t.Fatalf("expected channel to deactivate around 17 frames, took %d", frames)
	}
}

func TestTempoChangeMidSong(t *testing.T) {
	src := newFakeSource()
	src.add("GENMIDI", buildGENMIDI())
	e, _ := newTestEngine(t, src)

	smf := buildSMF(120, []smfEvent{
		{tick: 0, status: 0x90, d1: 60, d2: 100},       // NOTE_ON ch0 note60 vel100
		{tick: 120, meta51: 1_000_000},                 // TEMPO -> half speed
		{tick: 240, status: 0x80, d1: 60, d2: 0},       // NOTE_OFF ch0 note60
	})
	handle, err := e.RegisterSong(smf)
	if err != nil {
		t.Fatalf("RegisterSong: %v", err)
	}
	if err := e.PlaySong(handle, false); err != nil {
		t.Fatalf("PlaySong: %v", err)
	}

	seq := e.seq.Load()
	// samples_per_tick at 500000us/120tpb/48000Hz = 200; tick 120 needs
	// 120*200 = 24000 samples to dispatch NOTE_ON (tick0) and TEMPO(tick120).
	seq.Advance(24000)
	if len(e.alloc.Active()) != 1 {
		t.Fatalf("expected NOTE_ON to have allocated a voice, active=%d", len(e.alloc.Active()))
	}
	// after tempo halves to 1,000,000us/beat, samples_per_tick becomes 400;
	// NOTE_OFF at tick 240 is 120 ticks later = 120*400 = 48000 samples away.
	seq.Advance(48000)
	if len(e.alloc.Active()) != 0 {
		t.Fatalf("expected NOTE_OFF to have released the voice, active=%d", len(e.alloc.Active()))
	}
}

func TestLoopingResetsChannelDefaults(t *testing.T) {
	src := newFakeSource()
	src.add("GENMIDI", buildGENMIDI())
	e, _ := newTestEngine(t, src)

	smf := buildSMF(120, []smfEvent{
		{tick: 0, status: 0x90, d1: 60, d2: 100},
		{tick: 1, status: 0xB0, d1: 7, d2: 40}, // CC7 volume=40, diverges from default
		{tick: 2, status: 0x80, d1: 60, d2: 0},
	})
	handle, err := e.RegisterSong(smf)
	if err != nil {
		t.Fatalf("RegisterSong: %v", err)
	}
	if err := e.PlaySong(handle, true); err != nil {
		t.Fatalf("PlaySong: %v", err)
	}

	seq := e.seq.Load()
	samplesPerTick := uint32(200) // 500000us/120tpb/48000Hz
	// first pass: tick 1 drains the NOTE_ON/CC7 pair, tick 2 drains the
	// NOTE_OFF and trips the loop reset (checked immediately, before the
	// replayed CC7 sets the volume away from default again).
	seq.Advance(samplesPerTick)
	seq.Advance(samplesPerTick)
	if e.channelVolume[0] != defaultChannelVolume {
		t.Fatalf("expected channel volume reset to default right after loop wraparound, got %d", e.channelVolume[0])
	}
	if e.channelExpression[0] != defaultChannelExpression {
		t.Fatalf("expected channel expression reset to default right after loop wraparound, got %d", e.channelExpression[0])
	}
}

func TestDrumRouting(t *testing.T) {
	src := newFakeSource()
	src.add("GENMIDI", buildGENMIDI())
	e, _ := newTestEngine(t, src)

	e.NoteOn(9, 35, 100)
	if len(e.alloc.Active()) != 1 {
		t.Fatalf("expected note 35 on channel 9 to allocate a voice")
	}
	e.alloc.Reset()

	e.NoteOn(9, 81, 100)
	if len(e.alloc.Active()) != 1 {
		t.Fatalf("expected note 81 on channel 9 to allocate a voice")
	}
	e.alloc.Reset()

	e.NoteOn(9, 30, 100)
	if len(e.alloc.Active()) != 0 {
		t.Fatalf("expected note 30 on channel 9 (out of drum range) to be dropped")
	}
}

// smfEvent and buildSMF assemble a minimal single-track SMF-0 fixture
// without depending on the mus2mid package.
type smfEvent struct {
	tick    uint32
	status  byte
	d1, d2  byte
	meta51  uint32 // nonzero => emit a META 0x51 tempo event instead of status/d1/d2
}

func buildSMF(division uint16, events []smfEvent) []byte {
	var body []byte
	lastTick := uint32(0)
	for _, ev := range events {
		body = append(body, vlqBytes(ev.tick-lastTick)...)
		lastTick = ev.tick
		if ev.meta51 != 0 {
			body = append(body, 0xFF, 0x51, 0x03, byte(ev.meta51>>16), byte(ev.meta51>>8), byte(ev.meta51))
			continue
		}
		body = append(body, ev.status, ev.d1, ev.d2)
	}
	body = append(body, vlqBytes(0)...)
	body = append(body, 0xFF, 0x2F, 0x00)

	var out []byte
	out = append(out, []byte("MThd")...)
	out = binary.BigEndian.AppendUint32(out, 6)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, 1)
	out = binary.BigEndian.AppendUint16(out, division)
	out = append(out, []byte("MTrk")...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

func vlqBytes(v uint32) []byte {
	var out []byte
	out = append(out, byte(v&0x7F))
	v >>= 7
	for v > 0 {
		out = append([]byte{byte(v&0x7F) | 0x80}, out...)
		v >>= 7
	}
	return out
}

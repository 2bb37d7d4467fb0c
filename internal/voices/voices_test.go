package voices

import (
	"testing"

	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
)

func bindSimplePatch(ch *opl2.Channel) {
	ch.Mod.Bind(1, 0, 0, 8, 8, 8, 8, false, false, true, false, opl2.WaveSine)
	ch.Car.Bind(1, 0, 0, 8, 8, 8, 8, false, false, true, false, opl2.WaveSine)
}

func TestAllocateFreeChannelFirst(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := New(chip)

	v := a.Allocate(0, 60, 100)
	chip.KeyOn(v.FMCh, 0, 4)
	if v.FMCh != 0 {
		t.Fatalf("expected first free channel (0), got %d", v.FMCh)
	}
}

func TestVoiceStealingPicksOldest(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := New(chip)

	var handles []*Voice
	for n := 0; n < opl2.Channels; n++ {
		v := a.Allocate(0, uint8(60+n), 100)
		chip.KeyOn(v.FMCh, 0, 4)
		handles = append(handles, v)
	}

	// All 9 channels are now busy and sustaining (egt=true), so neither
	// tier (a) nor (b) applies; the 10th NOTE_ON must steal channel 0,
	// which was allocated first and therefore carries the lowest age.
	oldestFMCh := handles[0].FMCh
	v10 := a.Allocate(0, 70, 100)
	if v10.FMCh != oldestFMCh {
		t.Fatalf("expected steal of the oldest channel (%d), got %d", oldestFMCh, v10.FMCh)
	}
}

func TestReleaseAllMatchingNotes(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := New(chip)

	v1 := a.Allocate(0, 60, 100)
	chip.KeyOn(v1.FMCh, 0, 4)
	// Force a second voice onto the same (channel,note) by directly
	// installing it, simulating the rare-but-legal double-match case.
	other := (v1.FMCh + 1) % opl2.Channels
	a.install(other, 0, 60, 90)

	a.Release(0, 60)
	if _, ok := a.Find(0, 60); ok {
		t.Fatalf("expected no active voice for (0,60) after release")
	}
}

func TestReleaseChannelClearsAllNotesOnChannel(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := New(chip)
	// Key each voice on so its FM channel is no longer free and the next
	// allocation lands on a different channel.
	v1 := a.Allocate(0, 60, 100)
	chip.KeyOn(v1.FMCh, 0, 4)
	v2 := a.Allocate(0, 64, 100)
	chip.KeyOn(v2.FMCh, 0, 4)
	v3 := a.Allocate(1, 67, 100)
	chip.KeyOn(v3.FMCh, 0, 4)

	a.ReleaseChannel(0)
	if len(a.Active()) != 1 {
		t.Fatalf("expected only channel 1's voice to remain active, got %d", len(a.Active()))
	}
}

func TestPolyphonyCeilingLimitsAllocation(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := NewWithCeiling(chip, 3)

	var handles []*Voice
	for n := 0; n < 3; n++ {
		v := a.Allocate(0, uint8(60+n), 100)
		chip.KeyOn(v.FMCh, 0, 4)
		handles = append(handles, v)
		if v.FMCh >= 3 {
			t.Fatalf("expected allocation within the 3-channel ceiling, got FMCh=%d", v.FMCh)
		}
	}

	// A 4th NOTE_ON must steal within the ceiling rather than ever reaching
	// channel 3 or beyond, even though the chip itself has more channels.
	v4 := a.Allocate(0, 70, 100)
	if v4.FMCh >= 3 {
		t.Fatalf("expected steal to stay within the ceiling, got FMCh=%d", v4.FMCh)
	}
	if v4.FMCh != handles[0].FMCh {
		t.Fatalf("expected steal of the oldest in-ceiling channel (%d), got %d", handles[0].FMCh, v4.FMCh)
	}
}

func TestResetClearsEverything(t *testing.T) {
	chip := opl2.New()
	for i := range chip.Channels {
		bindSimplePatch(&chip.Channels[i])
	}
	a := New(chip)
	a.Allocate(0, 60, 100)
	a.Reset()
	if len(a.Active()) != 0 {
		t.Fatalf("expected no active voices after Reset")
	}
}

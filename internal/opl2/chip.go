package opl2

import "github.com/retrohandheld/doom-audio-engine/internal/lfo"

// Chip is the full 9-channel OPL2 emulation plus the shared tremolo/vibrato
// LFOs and the resampling accumulator described in §3 "OPL Chip".
type Chip struct {
	Channels [Channels]Channel

	tremolo lfo.LFO
	vibrato lfo.LFO

	resampleAccum uint32
	lastSample    int32

	musicVolume int32 // 0-127, applied on output per §4.4 "Resampling"
}

// New builds a chip with both operators of every channel parked in OFF, per
// §4.4's reset semantics.
func New() *Chip {
	c := &Chip{musicVolume: 127}
	c.tremolo.Set(1, 3.7)
	c.vibrato.Set(1, 6.1)
	for i := range c.Channels {
		c.Channels[i].Mod.Stage = StageOff
		c.Channels[i].Car.Stage = StageOff
		c.Channels[i].Mod.Env = EnvMax
		c.Channels[i].Car.Env = EnvMax
	}
	return c
}

// SetMusicVolume sets the master music level (0-127), applied per §4.4:
// "Apply music master volume (sample * music_volume) >> 7 on output".
func (c *Chip) SetMusicVolume(v int) {
	if v < 0 {
		v = 0
	}
	if v > 127 {
		v = 127
	}
	c.musicVolume = int32(v)
}

// generateSample advances the chip by one native-rate (49716 Hz) sample and
// returns the summed, clamped output, per §4.4 "Chip output".
func (c *Chip) generateSample() int32 {
	// Tremolo is a triangle 0..maxdepth; LFO.Sample returns a signed
	// [-depth,+depth] triangle, so fold it into the 0..depth range §4.4
	// describes ("triangle wave 0..maxdepth in dB attenuation units").
	tremSigned := c.tremolo.Sample(NativeRate)
	tremolo := int32((tremSigned + 1) / 2 * 4) // fold signed triangle into 0..depth attenuation units
	vibrato := int32(c.vibrato.Sample(NativeRate) * 4)

	var sum int32
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Silent() {
			continue
		}
		sum += ch.step(tremolo, vibrato)
	}
	sum >>= 1
	if sum > 32767 {
		sum = 32767
	}
	if sum < -32768 {
		sum = -32768
	}
	return sum
}

// Next advances the resampling accumulator by one output-rate sample,
// generating however many native-rate samples that requires, and returns the
// volume-scaled output sample, per §4.4 "Resampling".
func (c *Chip) Next(outputRate uint32) int16 {
	c.resampleAccum += NativeRate
	for c.resampleAccum >= outputRate {
		c.resampleAccum -= outputRate
		c.lastSample = c.generateSample()
	}
	scaled := (c.lastSample * c.musicVolume) >> 7
	return int16(scaled)
}

// KeyOn starts voice(s) on the given channel, recomputing frequency first.
func (c *Chip) KeyOn(channel int, fnum uint16, block int) {
	ch := &c.Channels[channel]
	ch.SetFrequency(fnum, block)
	ch.KeyOnVoice()
}

// KeyOff releases the given channel.
func (c *Chip) KeyOff(channel int) {
	c.Channels[channel].KeyOffVoice()
}

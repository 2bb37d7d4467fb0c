package opl2

// Channel is two operators in a fixed modulator->carrier arrangement, plus
// the per-channel pitch/routing/volume state from §3 "FM Channel".
type Channel struct {
	Mod, Car Operator

	Fnum     uint16 // 10-bit frequency number
	Block    uint8  // 3-bit octave
	Fb       uint8  // feedback amount, 0-7
	Cnt      uint8  // algorithm: 0 = FM, 1 = additive
	FbOut    [2]int32
	VolAtten int32 // MIDI-derived attenuation, applied to the carrier only
	KeyOn    bool
}

// Silent reports whether both operators have reached OFF, matching §3's
// channel invariant "silent iff both operators are OFF".
func (c *Channel) Silent() bool {
	return c.Mod.Stage == StageOff && c.Car.Stage == StageOff
}

// SetFrequency stores fnum/block and recomputes each operator's cached
// key-scale attenuation, per §4.4 "Frequency programming". block is clamped
// to 0..7 per §8's boundary case.
func (c *Channel) SetFrequency(fnum uint16, block int) {
	if block < 0 {
		block = 0
	}
	if block > 7 {
		block = 7
	}
	c.Fnum = fnum & 0x3FF
	c.Block = uint8(block)

	base := kslTable[c.Fnum>>6]*2 - int32(8-block)*32
	if base < 0 {
		base = 0
	}
	c.Mod.KslAtten = kslAtten(base, c.Mod.Ksl)
	c.Car.KslAtten = kslAtten(base, c.Car.Ksl)

	c.updatePhaseIncs()
}

func kslAtten(base int32, ksl uint8) int32 {
	if ksl == 0 {
		return 0
	}
	return base >> uint(3-ksl)
}

func (c *Channel) updatePhaseIncs() {
	freqVal := uint32(c.Fnum) << c.Block
	c.Mod.PhaseInc = freqVal * uint32(multFactor(c.Mod.Mult))
	c.Car.PhaseInc = freqVal * uint32(multFactor(c.Car.Mult))
}

// multFactor turns the 4-bit mult register into the operator's frequency
// multiplier. Value 0 means "half", represented here as a table with a
// doubled scale so PhaseInc stays integral; mult 1 therefore means "x2" in
// this table and the phase accumulator is correspondingly twice as wide as
// Fnum<<Block, folded away by the >>10 in Operator.output.
var multTable = [16]uint32{
	1, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 20, 24, 24, 30, 30,
}

func multFactor(mult uint8) uint32 {
	return multTable[mult&0xF]
}

// vibratoPhaseInc returns the per-sample phase increment for op, applying
// the chip-wide vibrato deviation only when the operator's Vib flag is set.
// A disabled-Vib operator uses its cached, vibrato-free PhaseInc so
// recomputation only happens for the (usually few) voices that use it.
func (c *Channel) vibratoPhaseInc(op *Operator, vibrato int32) uint32 {
	if !op.Vib || vibrato == 0 {
		return op.PhaseInc
	}
	fnum := int32(c.Fnum) + vibrato
	if fnum < 0 {
		fnum = 0
	}
	freqVal := uint32(fnum) << c.Block
	return freqVal * multFactor(op.Mult)
}

// KeyOnVoice resets both operators and clears feedback history, per §4.4.
func (c *Channel) KeyOnVoice() {
	c.Mod.KeyOn()
	c.Car.KeyOn()
	c.FbOut[0], c.FbOut[1] = 0, 0
	c.KeyOn = true
}

// KeyOffVoice transitions both operators toward RELEASE.
func (c *Channel) KeyOffVoice() {
	c.Mod.KeyOff()
	c.Car.KeyOff()
	c.KeyOn = false
}

// step advances envelopes and phases by one native-rate sample and returns
// this channel's contribution to the chip output, per §4.4 "Channel output".
// vibrato is a signed fnum-unit deviation applied only to operators with Vib
// enabled, per §4.4 "Chip output" ("vibrato produces a signed deviation in
// fnum units").
func (c *Channel) step(tremolo, vibrato int32) int32 {
	c.Mod.advanceEnv(c.Block, c.Fnum)
	c.Car.advanceEnv(c.Block, c.Fnum)
	c.Mod.Phase += c.vibratoPhaseInc(&c.Mod, vibrato)
	c.Car.Phase += c.vibratoPhaseInc(&c.Car, vibrato)

	var feedback int32
	if c.Fb > 0 {
		feedback = (c.FbOut[0] + c.FbOut[1]) >> uint(9-c.Fb)
	}

	modOut := c.Mod.output(feedback<<10, tremolo, 0)
	c.FbOut[1] = c.FbOut[0]
	c.FbOut[0] = modOut

	if c.Cnt == 0 {
		carOut := c.Car.output(modOut<<1, tremolo, c.VolAtten)
		return carOut
	}
	carOut := c.Car.output(0, tremolo, c.VolAtten)
	return modOut + carOut
}

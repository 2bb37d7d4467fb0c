package opl2

// Operator is one FM oscillator + envelope unit. The patch-programmed fields
// (Mult..Ws) come from the instrument bank via internal/genmidi; the
// remaining fields are runtime state advanced once per native-rate sample.
type Operator struct {
	Mult uint8 // frequency multiplier, 0-15
	Ksl  uint8 // key-scale level, 0-3
	Tl   uint8 // total level attenuation, 0-63
	Ar   uint8 // attack rate, 0-15
	Dr   uint8 // decay rate, 0-15
	Sl   uint8 // sustain level, 0-15
	Rr   uint8 // release rate, 0-15
	Am   bool  // tremolo enable
	Vib  bool  // vibrato enable
	Egt  bool  // sustaining tone (vs. percussive)
	Ksr  bool  // key-scale rate enable
	Ws   Waveform

	Phase    uint32
	PhaseInc uint32
	Env      int32 // 0 (loud) .. 511 (silent)
	Stage    EnvStage
	KslAtten int32
}

// Bind loads patch-programmed register fields, matching internal/genmidi's
// unpacked voice registers.
func (op *Operator) Bind(mult, ksl, tl, ar, dr, sl, rr uint8, am, vib, egt, ksr bool, ws Waveform) {
	op.Mult, op.Ksl, op.Tl = mult, ksl, tl
	op.Ar, op.Dr, op.Sl, op.Rr = ar, dr, sl, rr
	op.Am, op.Vib, op.Egt, op.Ksr = am, vib, egt, ksr
	op.Ws = ws
}

// KeyOn resets phase and envelope and enters ATTACK, per §4.4 "Key on/off".
func (op *Operator) KeyOn() {
	op.Phase = 0
	op.Env = EnvMax
	op.Stage = StageAttack
}

// KeyOff transitions any non-OFF stage to RELEASE.
func (op *Operator) KeyOff() {
	if op.Stage != StageOff {
		op.Stage = StageRelease
	}
}

// effectiveRate computes §4.4's "eff" = clamp(4*rate + rof, 0, 63), where
// rof = (block<<1)|(fnum>>9), itself shifted right 2 when KSR is disabled
// before being added to 4*rate. rate is the stage's own rate register (ar,
// dr, or rr).
func effectiveRate(rate uint8, block uint8, fnum uint16, ksr bool) int32 {
	rof := int32(block)<<1 | int32(fnum>>9)
	if !ksr {
		rof >>= 2
	}
	eff := 4*int32(rate) + rof
	if eff < 0 {
		eff = 0
	}
	if eff > 63 {
		eff = 63
	}
	return eff
}

// rateIndex maps an effective rate (0-63) onto the 16-entry increment
// tables: the top 4 bits select the table row.
func rateIndex(eff int32) int {
	idx := int(eff >> 2)
	if idx > 15 {
		idx = 15
	}
	return idx
}

// advanceEnv steps this operator's envelope state machine by one
// native-rate sample, per §4.4 "Operator envelope step".
func (op *Operator) advanceEnv(block uint8, fnum uint16) {
	switch op.Stage {
	case StageAttack:
		if op.Ar == 0 {
			return
		}
		if op.Ar == 15 {
			op.Env = 0
			op.Stage = StageDecay
			return
		}
		eff := effectiveRate(op.Ar, block, fnum, op.Ksr)
		k := 15 - rateIndex(eff)
		op.Env -= (op.Env >> uint(k)) + 1
		if op.Env <= 0 {
			op.Env = 0
			op.Stage = StageDecay
		}

	case StageDecay:
		target := int32(op.Sl) * 32
		if op.Dr == 0 {
			op.Env = target
			op.Stage = StageSustain
			return
		}
		eff := effectiveRate(op.Dr, block, fnum, op.Ksr)
		step := drIncrement[rateIndex(eff)]
		op.Env += step
		if op.Env >= target {
			op.Env = target
			op.Stage = StageSustain
		}

	case StageSustain:
		if op.Egt {
			return
		}
		op.decayToOff(op.Rr, block, fnum)

	case StageRelease:
		op.decayToOff(op.Rr, block, fnum)

	case StageOff:
		op.Env = EnvMax
	}
}

// decayToOff increments env toward EnvMax using rate, flooring the step at 1
// per §9's fix ("a minimum rate of 1 in RELEASE so voices always drain").
func (op *Operator) decayToOff(rate uint8, block uint8, fnum uint16) {
	eff := effectiveRate(rate, block, fnum, op.Ksr)
	step := drIncrement[rateIndex(eff)]
	if step == 0 {
		step = 1
	}
	op.Env += step
	if op.Env >= EnvMax {
		op.Env = EnvMax
		op.Stage = StageOff
	}
}

// output computes one sample from this operator per §4.4 "Operator output".
// phaseMod is the 32-bit-scale phase modulation input (feedback<<10 for a
// modulator, or the upstream modulator's output<<1 for a carrier); tremolo
// and volAtten are additional attenuation contributions in the same units as
// Env/Tl.
func (op *Operator) output(phaseMod int32, tremolo int32, volAtten int32) int32 {
	atten := op.Env + int32(op.Tl)<<3 + op.KslAtten + volAtten
	if op.Am {
		atten += tremolo
	}
	if atten >= EnvMax {
		return 0
	}

	phase := (op.Phase >> 10) + uint32(phaseMod>>10)
	logSin, negate := lookupSine(op.Ws, phase)
	return expOut(logSin+atten<<3, negate)
}

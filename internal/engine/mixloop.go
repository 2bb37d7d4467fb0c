package engine

import "context"

// audioThread is the single dedicated mixer loop of §4.7. It runs until
// ShutdownSound flips e.running false, then closes e.done so ShutdownSound
// can join it. A DAC write failure is logged and retried on the next block;
// the thread never aborts on its own (§7).
func (e *Engine) audioThread() {
	defer close(e.done)

	buf := make([]int16, e.cfg.MixSamples*2)

	for e.running.Load() {
		for i := range buf {
			buf[i] = 0
		}

		if s := e.seq.Load(); s != nil && s.Playing() {
			s.Advance(uint32(e.cfg.MixSamples))
		}

		ctx := context.Background()
		for i := 0; i < e.cfg.MixSamples; i++ {
			music := int32(e.chip.Next(e.cfg.OutputRate))

			e.sfxLock.Acquire(ctx, 1)
			sl, sr := e.mixer.Mix()
			e.sfxLock.Release(1)

			buf[2*i] = clampSample(music + sl)
			buf[2*i+1] = clampSample(music + sr)
		}

		if err := e.dac.Write(buf); err != nil {
			e.logger.Error("dac write failed", "err", err)
		}
	}
}

func clampSample(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

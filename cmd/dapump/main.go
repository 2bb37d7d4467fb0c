// Command dapump drives the engine against a directory of archive lumps and
// bounces N seconds of mixed audio to a WAV file, for offline inspection
// without a real DAC or game host.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/retrohandheld/doom-audio-engine/internal/dac"
	"github.com/retrohandheld/doom-audio-engine/internal/engine"
)

func main() {
	var (
		archiveDir = pflag.String("archive", "./testdata", "directory of archive lumps (GENMIDI, ds<NAME> SFX lumps)")
		songPath   = pflag.String("song", "", "path to a MIDI or MUS song file to register and play")
		sfxName    = pflag.String("sfx", "", "name of an SFX lump to fire once at t=0 (without the ds prefix)")
		seconds    = pflag.Float64("seconds", 5, "seconds of audio to render")
		outPath    = pflag.String("out", "out.wav", "output WAV path")
		rate       = pflag.Uint32("rate", 48000, "output sample rate (44100 or 48000)")
		mixSamples = pflag.Int("mix-samples", 512, "frames per mix block")
		loop       = pflag.Bool("loop", false, "loop the song for the full render duration")
		volume     = pflag.Int("volume", 127, "music master volume, 0-127")
	)
	pflag.Parse()

	src, err := newDirArchive(*archiveDir)
	if err != nil {
		log.Fatal(err)
	}

	sink := &dac.RecordingSink{}
	cfg := engine.DefaultConfig()
	cfg.OutputRate = *rate
	cfg.MixSamples = *mixSamples
	cfg.MusicVolume = *volume

	eng := engine.New(src, sink, cfg)
	if err := eng.InitMusic(); err != nil {
		log.Fatal(err)
	}
	if err := eng.InitSound(true); err != nil {
		log.Fatal(err)
	}

	if *songPath != "" {
		data, err := os.ReadFile(*songPath)
		if err != nil {
			log.Fatal(err)
		}
		handle, err := eng.RegisterSong(data)
		if err != nil {
			log.Fatal(err)
		}
		if err := eng.PlaySong(handle, *loop); err != nil {
			log.Fatal(err)
		}
	}

	if *sfxName != "" {
		if _, err := eng.StartSound(*sfxName, 8, 127, 128); err != nil {
			log.Fatal(err)
		}
	}

	needed := int(*seconds*float64(*rate)) * 2
	for len(sink.Frames) < needed {
		time.Sleep(5 * time.Millisecond)
	}
	if err := eng.ShutdownSound(); err != nil {
		log.Fatal(err)
	}

	frames := sink.Frames
	if len(frames) > needed {
		frames = frames[:needed]
	}
	if err := os.WriteFile(*outPath, encodeWAVInt16LE(frames, int(*rate), 2), 0644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s (%d stereo frames)\n", *outPath, len(frames)/2)
}

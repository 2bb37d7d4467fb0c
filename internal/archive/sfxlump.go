package archive

import (
	"encoding/binary"
	"fmt"
)

const sfxHeaderSize = 8

// SFXLump is a parsed, header-stripped SFX sample, per §4.1 and §6.2:
// 16-bit tag (must be 3), 16-bit sample rate, 32-bit length (including the
// 8-byte header), then unsigned-8-bit PCM.
type SFXLump struct {
	Rate uint16
	PCM  []byte
}

// ParseSFXLump validates and decodes a raw SFX lump. A zero rate is
// substituted with 11025, the original port's fallback; any other malformed
// header is a format rejection.
func ParseSFXLump(lump []byte) (*SFXLump, error) {
	if len(lump) < sfxHeaderSize {
		return nil, fmt.Errorf("archive: sfx lump too short: %d bytes", len(lump))
	}
	tag := binary.LittleEndian.Uint16(lump[0:2])
	if tag != 3 {
		return nil, fmt.Errorf("archive: sfx lump has unsupported tag %d", tag)
	}
	rate := binary.LittleEndian.Uint16(lump[2:4])
	if rate == 0 {
		rate = 11025
	}
	length := binary.LittleEndian.Uint32(lump[4:8])
	if length <= sfxHeaderSize {
		return nil, fmt.Errorf("archive: sfx lump declares non-positive PCM length")
	}
	end := int(length)
	if end > len(lump) {
		end = len(lump)
	}
	return &SFXLump{Rate: rate, PCM: lump[sfxHeaderSize:end]}, nil
}

package shaderpipe

import (
	"encoding/binary"
	"fmt"
)

const (
	// SPIRVMagic is the first little-endian word of every SPIR-V module.
	SPIRVMagic uint32 = 0x07230203

	// MaxSPIRVVersion is the newest module version the pipeline accepts (SPIR-V 1.6).
	MaxSPIRVVersion uint32 = 0x00010600

	// headerSize covers the magic and version words.
	headerSize = 8
)

// ValidateArtifact checks the SPIR-V header of a transpiled artifact.
// The payload after the first two words is not inspected.
func ValidateArtifact(shader string, data []byte) error {
	if len(data) < headerSize {
		return &Error{
			Kind:    KindInvalidArtifact,
			Shader:  shader,
			Message: fmt.Sprintf("artifact is %d bytes, need at least %d", len(data), headerSize),
		}
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != SPIRVMagic {
		return &Error{
			Kind:    KindInvalidArtifact,
			Shader:  shader,
			Message: fmt.Sprintf("bad magic 0x%08x", magic),
		}
	}
	if version := binary.LittleEndian.Uint32(data[4:8]); version > MaxSPIRVVersion {
		return &Error{
			Kind:    KindInvalidArtifact,
			Shader:  shader,
			Message: fmt.Sprintf("module version 0x%08x exceeds supported 0x%08x", version, MaxSPIRVVersion),
		}
	}
	return nil
}

// ArtifactVersion returns the major and minor SPIR-V version of a header-valid artifact.
func ArtifactVersion(data []byte) (major, minor uint8) {
	if len(data) < headerSize {
		return 0, 0
	}
	v := binary.LittleEndian.Uint32(data[4:8])
	return uint8(v >> 16), uint8(v >> 8)
}

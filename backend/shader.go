package backend

import (
	"crypto/sha256"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/cache"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// shaderCacheSize bounds the number of compiled modules kept.
const shaderCacheSize = 64

// compiled holds naga output keyed by the digest of the WGSL source.
var compiled = cache.New[[sha256.Size]byte, []uint32](shaderCacheSize)

// CompileWGSL compiles WGSL source to SPIR-V words. Results are cached by
// source; the returned slice is shared and must not be modified.
func CompileWGSL(source string) ([]uint32, error) {
	words, _, err := compiled.GetOrCompute(sha256.Sum256([]byte(source)), func() ([]uint32, error) {
		return compileWGSL(source)
	})
	return words, err
}

func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// ShaderSPIRV returns the SPIR-V for a shader module descriptor, compiling
// WGSL when no SPIR-V was supplied.
func ShaderSPIRV(desc *gpucore.ShaderModuleDescriptor) ([]uint32, error) {
	switch {
	case len(desc.SPIRV) > 0:
		if desc.SPIRV[0] != spirvMagic {
			return nil, Invalid("CreateShaderModule", "bad SPIR-V magic %#x", desc.SPIRV[0])
		}
		return desc.SPIRV, nil
	case desc.WGSL != "":
		words, err := CompileWGSL(desc.WGSL)
		if err != nil {
			return nil, &ValidationError{Op: "CreateShaderModule", Reason: err.Error()}
		}
		return words, nil
	default:
		return nil, Invalid("CreateShaderModule", "no shader source")
	}
}

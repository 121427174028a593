package backend

import (
	"errors"
	"testing"

	"github.com/gogpu/gpuproc/gpucore"
)

const clearWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let x = f32(i32(i) - 1);
    let y = f32(i32(i & 1u) * 2 - 1);
    return vec4<f32>(x, y, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

func TestShaderSPIRVCompilesWGSL(t *testing.T) {
	words, err := ShaderSPIRV(&gpucore.ShaderModuleDescriptor{WGSL: clearWGSL})
	if err != nil {
		t.Fatalf("ShaderSPIRV() error = %v", err)
	}
	if len(words) == 0 || words[0] != spirvMagic {
		t.Errorf("compiled module does not start with SPIR-V magic")
	}
}

func TestShaderSPIRVRejects(t *testing.T) {
	tests := []struct {
		name string
		desc gpucore.ShaderModuleDescriptor
	}{
		{"empty", gpucore.ShaderModuleDescriptor{}},
		{"bad magic", gpucore.ShaderModuleDescriptor{SPIRV: []uint32{0xdeadbeef}}},
		{"bad wgsl", gpucore.ShaderModuleDescriptor{WGSL: "fn ("}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ShaderSPIRV(&tt.desc)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("ShaderSPIRV() error = %v, want *ValidationError", err)
			}
		})
	}
}

func TestShaderSPIRVPassesThrough(t *testing.T) {
	in := []uint32{spirvMagic, 0x00010000}
	out, err := ShaderSPIRV(&gpucore.ShaderModuleDescriptor{SPIRV: in})
	if err != nil {
		t.Fatalf("ShaderSPIRV() error = %v", err)
	}
	if &out[0] != &in[0] {
		t.Error("ShaderSPIRV() copied supplied SPIR-V")
	}
}

func TestCompileWGSLCached(t *testing.T) {
	before := compiled.Stats()
	first, err := CompileWGSL(clearWGSL)
	if err != nil {
		t.Fatal(err)
	}
	second, err := CompileWGSL(clearWGSL)
	if err != nil {
		t.Fatal(err)
	}
	if &first[0] != &second[0] {
		t.Error("second compile did not reuse the cached module")
	}
	if after := compiled.Stats(); after.Hits <= before.Hits {
		t.Errorf("cache hits = %d, want more than %d", after.Hits, before.Hits)
	}
	if _, err := CompileWGSL("fn ("); err == nil {
		t.Error("CompileWGSL(invalid) succeeded")
	}
}

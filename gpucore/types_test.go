package gpucore

import "testing"

func TestZipUnzip(t *testing.T) {
	tests := []struct {
		name    string
		index   uint32
		epoch   uint32
		backend Backend
	}{
		{"zero epoch", 1, 0, BackendVulkan},
		{"max index", 0xFFFFFFFF, 3, BackendSoftware},
		{"max epoch", 7, epochMask, BackendGL},
		{"empty backend", 42, 9, BackendEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := ZipID(tt.index, tt.epoch, tt.backend)
			idx, epoch, be := id.Unzip()
			if idx != tt.index {
				t.Errorf("index = %d, want %d", idx, tt.index)
			}
			if epoch != tt.epoch {
				t.Errorf("epoch = %d, want %d", epoch, tt.epoch)
			}
			if be != tt.backend {
				t.Errorf("backend = %v, want %v", be, tt.backend)
			}
		})
	}
}

func TestZipTruncatesEpoch(t *testing.T) {
	id := ZipID(5, epochMask+1, BackendVulkan)
	if got := id.Epoch(); got != 0 {
		t.Errorf("Epoch() = %d, want 0 after overflow", got)
	}
	if got := id.Backend(); got != BackendVulkan {
		t.Errorf("Backend() = %v, want vulkan; epoch overflow leaked into backend bits", got)
	}
}

func TestTypedIDKind(t *testing.T) {
	tests := []struct {
		got  Kind
		want Kind
	}{
		{AdapterID(0).Kind(), KindAdapter},
		{DeviceID(0).Kind(), KindDevice},
		{QueueID(0).Kind(), KindQueue},
		{BufferID(0).Kind(), KindBuffer},
		{TextureID(0).Kind(), KindTexture},
		{TextureViewID(0).Kind(), KindTextureView},
		{SamplerID(0).Kind(), KindSampler},
		{ShaderModuleID(0).Kind(), KindShaderModule},
		{BindGroupLayoutID(0).Kind(), KindBindGroupLayout},
		{BindGroupID(0).Kind(), KindBindGroup},
		{PipelineLayoutID(0).Kind(), KindPipelineLayout},
		{ComputePipelineID(0).Kind(), KindComputePipeline},
		{RenderPipelineID(0).Kind(), KindRenderPipeline},
		{CommandEncoderID(0).Kind(), KindCommandEncoder},
		{CommandBufferID(0).Kind(), KindCommandBuffer},
		{SwapChainID(0).Kind(), KindSwapChain},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Kind() = %v, want %v", tt.got, tt.want)
		}
	}
}

func TestQueueSharesDeviceID(t *testing.T) {
	dev := DeviceID(ZipID(3, 1, BackendVulkan))
	q := QueueOf(dev)
	if q.Raw() != dev.Raw() {
		t.Errorf("QueueOf(%v) = %v, want same raw id", dev, q)
	}
	if DeviceOf(q) != dev {
		t.Errorf("DeviceOf(QueueOf(d)) = %v, want %v", DeviceOf(q), dev)
	}
}

func TestCommandBufferSharesEncoderID(t *testing.T) {
	enc := CommandEncoderID(ZipID(8, 2, BackendSoftware))
	cmd := CommandBufferOf(enc)
	if cmd.Raw() != enc.Raw() {
		t.Errorf("CommandBufferOf(%v) = %v, want same raw id", enc, cmd)
	}
	if EncoderOf(cmd) != enc {
		t.Errorf("EncoderOf(CommandBufferOf(e)) = %v, want %v", EncoderOf(cmd), enc)
	}
}

func TestIDString(t *testing.T) {
	id := BufferID(ZipID(4, 1, BackendSoftware))
	if got, want := id.String(), "Buffer(4,1,software)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestKindValid(t *testing.T) {
	if KindInvalid.Valid() {
		t.Error("KindInvalid.Valid() = true")
	}
	if !KindBuffer.Valid() {
		t.Error("KindBuffer.Valid() = false")
	}
	if Kind(200).Valid() {
		t.Error("Kind(200).Valid() = true")
	}
	if got := Kind(200).String(); got != "Kind(200)" {
		t.Errorf("Kind(200).String() = %q", got)
	}
}

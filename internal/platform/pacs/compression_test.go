package pacs

import "testing"

func TestClassifySyntax(t *testing.T) {
	tests := []struct {
		uid        string
		name       string
		compressed bool
		supported  bool
	}{
		{ImplicitVRLittleEndian, "Uncompressed", false, true},
		{ExplicitVRLittleEndian, "Uncompressed", false, true},
		{ExplicitVRBigEndian, "Uncompressed", false, true},
		{JPEGBaseline8Bit, "JPEG Baseline", true, true},
		{JPEGExtended12Bit, "JPEG Extended", true, true},
		{JPEGLossless, "JPEG Lossless", true, true},
		{JPEGLosslessSV1, "JPEG Lossless", true, true},
		{JPEGLSLossless, "JPEG-LS Lossless", true, true},
		{JPEGLSNearLossless, "JPEG-LS Lossy", true, true},
		{JPEG2000Lossless, "JPEG 2000", true, true},
		{JPEG2000, "JPEG 2000", true, true},
		{JPEG2000Part2MultiComponentLossless, "JPEG 2000", true, true},
		{JPEG2000Part2MultiComponent, "JPEG 2000", true, true},
		{RLELossless, "RLE Lossless", true, true},
		{"1.2.3.999", "Unknown", false, false},
		{"", "Unknown", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			info := ClassifySyntax(tt.uid)
			if info.CompressionName != tt.name {
				t.Errorf("name: got %q, want %q", info.CompressionName, tt.name)
			}
			if info.IsCompressed != tt.compressed {
				t.Errorf("compressed: got %v, want %v", info.IsCompressed, tt.compressed)
			}
			if info.Supported != tt.supported {
				t.Errorf("supported: got %v, want %v", info.Supported, tt.supported)
			}
			if info.TransferSyntaxUID != tt.uid {
				t.Errorf("uid echoed back wrong: %q", info.TransferSyntaxUID)
			}
		})
	}
}

func TestKnownSyntaxes_AllClassified(t *testing.T) {
	syntaxes := KnownSyntaxes()
	if len(syntaxes) != len(syntaxRegistry) {
		t.Fatalf("KnownSyntaxes returns %d entries, registry has %d", len(syntaxes), len(syntaxRegistry))
	}
	seen := make(map[string]bool)
	for _, uid := range syntaxes {
		if seen[uid] {
			t.Errorf("duplicate syntax %s", uid)
		}
		seen[uid] = true
		if info := ClassifySyntax(uid); !info.Supported {
			t.Errorf("known syntax %s classifies as unsupported", uid)
		}
	}
}

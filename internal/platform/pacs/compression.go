package pacs

// DICOM transfer syntax UIDs the gateway classifies, per DICOM Part 5,
// Section 8 and Part 6, Annex A.4.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    = "1.2.840.10008.1.2.2"

	JPEGBaseline8Bit  = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"

	JPEGLossless    = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1 = "1.2.840.10008.1.2.4.70"

	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"

	JPEG2000Lossless                    = "1.2.840.10008.1.2.4.90"
	JPEG2000                            = "1.2.840.10008.1.2.4.91"
	JPEG2000Part2MultiComponentLossless = "1.2.840.10008.1.2.4.92"
	JPEG2000Part2MultiComponent         = "1.2.840.10008.1.2.4.93"

	RLELossless = "1.2.840.10008.1.2.5"
)

// CompressionInfo describes the wire-level encoding of an instance's pixel
// data. It is derived from the transfer syntax UID, never stored.
type CompressionInfo struct {
	IsCompressed      bool   `json:"is_compressed"`
	TransferSyntaxUID string `json:"transfer_syntax_uid"`
	CompressionName   string `json:"compression_name"`
	Supported         bool   `json:"supported"`
	Err               error  `json:"-"`
}

type syntaxEntry struct {
	name       string
	compressed bool
}

// syntaxRegistry maps transfer syntax UIDs to their classification. UIDs
// outside the registry classify as unknown and unsupported.
var syntaxRegistry = map[string]syntaxEntry{
	ImplicitVRLittleEndian: {name: "Uncompressed", compressed: false},
	ExplicitVRLittleEndian: {name: "Uncompressed", compressed: false},
	ExplicitVRBigEndian:    {name: "Uncompressed", compressed: false},

	JPEGBaseline8Bit:  {name: "JPEG Baseline", compressed: true},
	JPEGExtended12Bit: {name: "JPEG Extended", compressed: true},

	JPEGLossless:    {name: "JPEG Lossless", compressed: true},
	JPEGLosslessSV1: {name: "JPEG Lossless", compressed: true},

	JPEGLSLossless:     {name: "JPEG-LS Lossless", compressed: true},
	JPEGLSNearLossless: {name: "JPEG-LS Lossy", compressed: true},

	JPEG2000Lossless:                    {name: "JPEG 2000", compressed: true},
	JPEG2000:                            {name: "JPEG 2000", compressed: true},
	JPEG2000Part2MultiComponentLossless: {name: "JPEG 2000", compressed: true},
	JPEG2000Part2MultiComponent:         {name: "JPEG 2000", compressed: true},

	RLELossless: {name: "RLE Lossless", compressed: true},
}

// ClassifySyntax maps a transfer syntax UID to its compression classification.
func ClassifySyntax(uid string) CompressionInfo {
	entry, ok := syntaxRegistry[uid]
	if !ok {
		return CompressionInfo{
			IsCompressed:      false,
			TransferSyntaxUID: uid,
			CompressionName:   "Unknown",
			Supported:         false,
		}
	}
	return CompressionInfo{
		IsCompressed:      entry.compressed,
		TransferSyntaxUID: uid,
		CompressionName:   entry.name,
		Supported:         true,
	}
}

// KnownSyntaxes returns every UID in the registry in a stable order:
// uncompressed first, then by UID. The validation harness iterates this
// list for its compression coverage check.
func KnownSyntaxes() []string {
	return []string{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		JPEGBaseline8Bit,
		JPEGExtended12Bit,
		JPEGLossless,
		JPEGLosslessSV1,
		JPEGLSLossless,
		JPEGLSNearLossless,
		JPEG2000Lossless,
		JPEG2000,
		JPEG2000Part2MultiComponentLossless,
		JPEG2000Part2MultiComponent,
		RLELossless,
	}
}

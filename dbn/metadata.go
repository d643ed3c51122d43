package dbn

import (
	"encoding/binary"
	"fmt"

	"github.com/justapithecus/livefeed/types"
)

// Format versions.
const (
	// CurrentVersion is the newest format version this package decodes.
	CurrentVersion uint8 = 2
	// MinVersion is the oldest format version this package decodes.
	MinVersion uint8 = 1
)

var metadataMagic = []byte("DBN")

// Metadata body layout constants.
const (
	datasetCstrLen      = 16
	metadataReservedLen = 100
	metadataMinLenV1    = 53
	metadataMinLenV2    = 47
)

// Metadata is the preamble the gateway sends after start_session.
type Metadata struct {
	// Version is the format version of the records that follow.
	Version uint8 `json:"version" yaml:"version"`
	// Dataset is the dataset code.
	Dataset string `json:"dataset" yaml:"dataset"`
	// Schema is the stream schema, empty when the stream mixes schemas.
	Schema types.Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
	// Start is the replay start in nanoseconds since the epoch.
	Start uint64 `json:"start" yaml:"start"`
	// End is the end of the stream in nanoseconds, UndefTimestamp for live data.
	End uint64 `json:"end" yaml:"end"`
	// Limit is the record limit, zero for none.
	Limit uint64 `json:"limit" yaml:"limit"`
	// STypeIn is the input symbology, empty when mixed.
	STypeIn types.SType `json:"stype_in,omitempty" yaml:"stype_in,omitempty"`
	// STypeOut is the output symbology.
	STypeOut types.SType `json:"stype_out" yaml:"stype_out"`
	// TsOut reports whether records carry a gateway send timestamp trailer.
	TsOut bool `json:"ts_out" yaml:"ts_out"`
}

// DecodeMetadata decodes a metadata frame as returned by Buffer.NextMetadata.
func DecodeMetadata(frame []byte) (*Metadata, error) {
	if len(frame) < MetadataPrefixSize {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "metadata frame shorter than prefix"}
	}
	if string(frame[:3]) != string(metadataMagic) {
		return nil, decodeError("invalid metadata magic %q", frame[:3])
	}
	version := frame[3]
	if version < MinVersion || version > CurrentVersion {
		return nil, &FrameError{
			Kind: FrameErrorVersion,
			Msg:  fmt.Sprintf("metadata version %d outside supported range %d..%d", version, MinVersion, CurrentVersion),
		}
	}
	bodyLen := binary.LittleEndian.Uint32(frame[4:8])
	body := frame[MetadataPrefixSize:]
	if uint64(len(body)) < uint64(bodyLen) {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: fmt.Sprintf("metadata body %d bytes, header declares %d", len(body), bodyLen)}
	}
	body = body[:bodyLen]

	minLen := metadataMinLenV2
	if version == 1 {
		minLen = metadataMinLenV1
	}
	if len(body) < minLen {
		return nil, decodeError("metadata body of %d bytes is shorter than %d", len(body), minLen)
	}

	le := binary.LittleEndian
	schema, err := types.SchemaFromCode(le.Uint16(body[16:18]))
	if err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "metadata schema", Err: err}
	}
	m := &Metadata{
		Version: version,
		Dataset: cstr(body[:datasetCstrLen]),
		Schema:  schema,
		Start:   le.Uint64(body[18:26]),
		End:     le.Uint64(body[26:34]),
		Limit:   le.Uint64(body[34:42]),
	}

	// version 1 carries a record count before the symbology fields
	off := 42
	if version == 1 {
		off = 50
	}
	if m.STypeIn, err = types.STypeFromCode(body[off]); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "metadata stype_in", Err: err}
	}
	if m.STypeOut, err = types.STypeFromCode(body[off+1]); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "metadata stype_out", Err: err}
	}
	m.TsOut = body[off+2] != 0
	return m, nil
}

// EncodeMetadata serializes m as a metadata frame with empty symbol sections.
func EncodeMetadata(m *Metadata) ([]byte, error) {
	if m.Version < MinVersion || m.Version > CurrentVersion {
		return nil, &FrameError{Kind: FrameErrorVersion, Msg: fmt.Sprintf("unsupported version %d", m.Version)}
	}
	schema := types.SchemaMixed
	if m.Schema != "" {
		code, ok := m.Schema.Code()
		if !ok {
			return nil, decodeError("unknown schema %q", m.Schema)
		}
		schema = code
	}
	stypeIn, stypeOut := types.STypeNone, types.STypeNone
	if m.STypeIn != "" {
		stypeIn, _ = m.STypeIn.Code()
	}
	if m.STypeOut != "" {
		stypeOut, _ = m.STypeOut.Code()
	}

	// fixed fields, then four empty symbol sections (v1 adds a schema definition length)
	tail := 16
	if m.Version == 1 {
		tail += 4
	}
	body := make([]byte, metadataReservedLen+tail)
	le := binary.LittleEndian
	putCstr(body[:datasetCstrLen], m.Dataset)
	le.PutUint16(body[16:18], schema)
	le.PutUint64(body[18:26], m.Start)
	le.PutUint64(body[26:34], m.End)
	le.PutUint64(body[34:42], m.Limit)
	off := 42
	if m.Version == 1 {
		off = 50
	}
	body[off] = stypeIn
	body[off+1] = stypeOut
	if m.TsOut {
		body[off+2] = 1
	}

	frame := make([]byte, MetadataPrefixSize+len(body))
	copy(frame, metadataMagic)
	frame[3] = m.Version
	le.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[MetadataPrefixSize:], body)
	return frame, nil
}

// Upgrade reports the version records will have after decoding with policy
// and updates m to match.
func (m *Metadata) Upgrade(policy UpgradePolicy) {
	if policy == UpgradeToV2 && m.Version < CurrentVersion {
		m.Version = CurrentVersion
	}
}

// Clone returns a copy of m, or nil when m is nil.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

package dbn

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// UpgradePolicy selects how records from older format versions are handled.
type UpgradePolicy uint8

const (
	// AsIs passes records through in the version the gateway sent.
	AsIs UpgradePolicy = iota
	// UpgradeToV2 rewrites version 1 records into the version 2 layout.
	UpgradeToV2
)

// String returns the policy name.
func (p UpgradePolicy) String() string {
	switch p {
	case AsIs:
		return "as_is"
	case UpgradeToV2:
		return "upgrade_to_v2"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParseUpgradePolicy parses a policy name. The empty string selects UpgradeToV2.
func ParseUpgradePolicy(s string) (UpgradePolicy, error) {
	switch strings.ToLower(s) {
	case "", "upgrade", "upgrade_to_v2", "upgrade-to-v2":
		return UpgradeToV2, nil
	case "as_is", "as-is", "asis":
		return AsIs, nil
	default:
		return 0, fmt.Errorf("unknown upgrade policy %q", s)
	}
}

// Decoder interprets raw records according to the stream's metadata.
//
// Decode is synchronous and keeps no state between records other than the
// upgrade scratch space, which an upgraded Record borrows until the next call.
type Decoder struct {
	version  uint8
	policy   UpgradePolicy
	tsOut    bool
	stypeIn  uint8
	stypeOut uint8
	scratch  []byte
}

// NewDecoder creates a decoder for the current format version.
// Call SetMetadata once the stream's metadata is known.
func NewDecoder(policy UpgradePolicy) *Decoder {
	return &Decoder{
		version:  CurrentVersion,
		policy:   policy,
		stypeIn:  Unset,
		stypeOut: Unset,
	}
}

// SetMetadata configures the decoder from the stream metadata as received,
// before any Metadata.Upgrade.
func (d *Decoder) SetMetadata(m *Metadata) error {
	if m.Version < MinVersion || m.Version > CurrentVersion {
		return &FrameError{Kind: FrameErrorVersion, Msg: fmt.Sprintf("unsupported version %d", m.Version)}
	}
	d.version = m.Version
	d.tsOut = m.TsOut
	d.stypeIn, d.stypeOut = Unset, Unset
	if code, ok := m.STypeIn.Code(); ok {
		d.stypeIn = code
	}
	if code, ok := m.STypeOut.Code(); ok {
		d.stypeOut = code
	}
	return nil
}

// InputVersion returns the version of records as they arrive.
func (d *Decoder) InputVersion() uint8 {
	return d.version
}

// OutputVersion returns the version of records returned by Decode.
func (d *Decoder) OutputVersion() uint8 {
	if d.policy == UpgradeToV2 && d.version < CurrentVersion {
		return CurrentVersion
	}
	return d.version
}

// Decode interprets one complete record as returned by Buffer.NextRecord.
func (d *Decoder) Decode(raw []byte) (Record, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return Record{}, err
	}
	if h.Length != len(raw) {
		return Record{}, decodeError("record header declares %d bytes, got %d", h.Length, len(raw))
	}

	rec := Record{Header: h, Version: d.version, raw: raw}
	if d.tsOut {
		if len(raw) < RecordHeaderSize+tsOutSize {
			return Record{}, decodeError("%s record of %d bytes has no room for ts_out", h.RType, len(raw))
		}
		rec.HasTsOut = true
		rec.TsOut = binary.LittleEndian.Uint64(raw[len(raw)-tsOutSize:])
	}

	if d.OutputVersion() == d.version {
		return rec, nil
	}
	rec.Version = d.OutputVersion()
	if !changedInV2(h.RType) {
		return rec, nil
	}
	upgraded, err := d.upgrade(rec)
	if err != nil {
		return Record{}, err
	}
	rec.raw = upgraded
	rec.Header.Length = len(upgraded)
	return rec, nil
}

// changedInV2 reports whether the record layout differs between versions 1 and 2.
func changedInV2(rtype RType) bool {
	return rtype == RTypeError || rtype == RTypeSystem || rtype == RTypeSymbolMapping
}

// upgrade rewrites a version 1 record into the scratch buffer in the
// version 2 layout, carrying the ts_out trailer across.
func (d *Decoder) upgrade(rec Record) ([]byte, error) {
	msg, err := decodeMessage(rec.Header, rec.body(), 1)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case *SystemMsg:
		if m.IsHeartbeat() {
			m.Code = SystemCodeHeartbeat
		}
	case *SymbolMappingMsg:
		m.STypeIn = d.stypeIn
		m.STypeOut = d.stypeOut
	}

	out, err := encodeInto(d.scratch, msg, CurrentVersion)
	if err != nil {
		return nil, err
	}
	if rec.HasTsOut {
		out = binary.LittleEndian.AppendUint64(out, rec.TsOut)
		out[0] = uint8(len(out) / LengthMultiplier)
	}
	d.scratch = out
	return out, nil
}

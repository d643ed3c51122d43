package dbn

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RType is the record type discriminator in byte 1 of every record header.
type RType uint8

// Record type constants.
const (
	RTypeMbp0          RType = 0x00
	RTypeMbp1          RType = 0x01
	RTypeMbp10         RType = 0x0A
	RTypeStatus        RType = 0x12
	RTypeInstrumentDef RType = 0x13
	RTypeImbalance     RType = 0x14
	RTypeError         RType = 0x15
	RTypeSymbolMapping RType = 0x16
	RTypeSystem        RType = 0x17
	RTypeStatistics    RType = 0x18
	RTypeOhlcv1S       RType = 0x20
	RTypeOhlcv1M       RType = 0x21
	RTypeOhlcv1H       RType = 0x22
	RTypeOhlcv1D       RType = 0x23
	RTypeOhlcvEod      RType = 0x24
	RTypeMbo           RType = 0xA0
)

// RTypeTrade is an alias for RTypeMbp0; trades carry no book levels.
const RTypeTrade = RTypeMbp0

// String returns a stable, lowercase name used in logs and metrics.
func (r RType) String() string {
	switch r {
	case RTypeMbp0:
		return "trade"
	case RTypeMbp1:
		return "mbp1"
	case RTypeMbp10:
		return "mbp10"
	case RTypeStatus:
		return "status"
	case RTypeInstrumentDef:
		return "instrument_def"
	case RTypeImbalance:
		return "imbalance"
	case RTypeError:
		return "error"
	case RTypeSymbolMapping:
		return "symbol_mapping"
	case RTypeSystem:
		return "system"
	case RTypeStatistics:
		return "statistics"
	case RTypeOhlcv1S, RTypeOhlcv1M, RTypeOhlcv1H, RTypeOhlcv1D, RTypeOhlcvEod:
		return "ohlcv"
	case RTypeMbo:
		return "mbo"
	default:
		return fmt.Sprintf("rtype_0x%02x", uint8(r))
	}
}

// UndefTimestamp marks an unset timestamp field.
const UndefTimestamp = ^uint64(0)

// RecordHeader is the 16-byte header common to every record.
type RecordHeader struct {
	// Length is the record length in bytes, ts_out trailer included.
	Length       int
	RType        RType
	PublisherID  uint16
	InstrumentID uint32
	TsEvent      uint64
}

// EventTime converts TsEvent to a time.Time. Returns the zero time when unset.
func (h RecordHeader) EventTime() time.Time {
	return nsTime(h.TsEvent)
}

// ParseHeader decodes the header at the start of raw.
func ParseHeader(raw []byte) (RecordHeader, error) {
	if len(raw) < RecordHeaderSize {
		return RecordHeader{}, decodeError("record of %d bytes is shorter than the header", len(raw))
	}
	return RecordHeader{
		Length:       int(raw[0]) * LengthMultiplier,
		RType:        RType(raw[1]),
		PublisherID:  binary.LittleEndian.Uint16(raw[2:4]),
		InstrumentID: binary.LittleEndian.Uint32(raw[4:8]),
		TsEvent:      binary.LittleEndian.Uint64(raw[8:16]),
	}, nil
}

func putHeader(dst []byte, h RecordHeader) {
	dst[0] = uint8(h.Length / LengthMultiplier)
	dst[1] = uint8(h.RType)
	binary.LittleEndian.PutUint16(dst[2:4], h.PublisherID)
	binary.LittleEndian.PutUint32(dst[4:8], h.InstrumentID)
	binary.LittleEndian.PutUint64(dst[8:16], h.TsEvent)
}

// Record is one decoded record.
//
// The raw bytes are borrowed from the session's buffer (or the decoder's
// upgrade scratch space) and are valid only until the next decode. Use
// Clone to keep a record beyond that.
type Record struct {
	Header RecordHeader
	// Version is the format version of Bytes.
	Version uint8
	// HasTsOut is set when the record carries a gateway send timestamp trailer.
	HasTsOut bool
	// TsOut is the gateway send timestamp when HasTsOut is set.
	TsOut uint64

	raw []byte
}

// Bytes returns the record's raw bytes.
func (r Record) Bytes() []byte {
	return r.raw
}

// Len returns the record length in bytes.
func (r Record) Len() int {
	return len(r.raw)
}

// IsZero reports whether r holds no record.
func (r Record) IsZero() bool {
	return r.raw == nil
}

// Clone returns a copy that owns its bytes.
func (r Record) Clone() Record {
	out := r
	out.raw = append([]byte(nil), r.raw...)
	return out
}

// body returns the record bytes without the ts_out trailer.
func (r Record) body() []byte {
	if r.HasTsOut && len(r.raw) >= RecordHeaderSize+tsOutSize {
		return r.raw[:len(r.raw)-tsOutSize]
	}
	return r.raw
}

// Message decodes the record into its typed variant.
// Unrecognized record types decode to *UnknownMsg.
func (r Record) Message() (Message, error) {
	return decodeMessage(r.Header, r.body(), r.Version)
}

func nsTime(ns uint64) time.Time {
	if ns == UndefTimestamp || ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

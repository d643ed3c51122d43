package dbn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/justapithecus/livefeed/types"
)

// Record layout sizes in bytes, ts_out trailer excluded.
const (
	tradeSize           = 48
	mboSize             = 56
	ohlcvSize           = 56
	errorSizeV1         = 80
	errorSizeV2         = 320
	systemSizeV1        = 80
	systemSizeV2        = 320
	symbolMappingSizeV1 = 80
	symbolMappingSizeV2 = 176

	errStrLenV1    = 64
	errStrLenV2    = 302
	systemStrLenV1 = 64
	systemStrLenV2 = 303
	symbolLenV1    = 22
	symbolLenV2    = 71

	tsOutSize = 8
)

// FixedPriceScale is the number of price units per 1.0.
const FixedPriceScale = 1_000_000_000

// UndefPrice marks an unset price field.
const UndefPrice = math.MaxInt64

// Unset marks an unset one-byte code field.
const Unset uint8 = 0xFF

// SystemCodeHeartbeat is the version 2 system message code for a heartbeat.
const SystemCodeHeartbeat uint8 = 0

// Message is a typed record. The set of variants is closed; records whose
// type is not modelled decode to *UnknownMsg.
type Message interface {
	Header() RecordHeader
	isMessage()
}

// TradeMsg is a trade event.
type TradeMsg struct {
	Hd        RecordHeader
	Price     int64
	Size      uint32
	Action    byte
	Side      byte
	Flags     uint8
	Depth     uint8
	TsRecv    uint64
	TsInDelta int32
	Sequence  uint32
}

// MboMsg is a market-by-order event.
type MboMsg struct {
	Hd        RecordHeader
	OrderID   uint64
	Price     int64
	Size      uint32
	Flags     uint8
	ChannelID uint8
	Action    byte
	Side      byte
	TsRecv    uint64
	TsInDelta int32
	Sequence  uint32
}

// OhlcvMsg is an aggregate bar.
type OhlcvMsg struct {
	Hd     RecordHeader
	Open   int64
	High   int64
	Low    int64
	Close  int64
	Volume uint64
}

// ErrorMsg is an error reported by the gateway.
type ErrorMsg struct {
	Hd     RecordHeader
	Err    string
	Code   uint8
	IsLast uint8
}

// SystemMsg is a gateway notice or heartbeat.
type SystemMsg struct {
	Hd   RecordHeader
	Msg  string
	Code uint8
}

// IsHeartbeat reports whether the message is a heartbeat.
// Version 1 messages carry no code, so the text is checked instead.
func (m *SystemMsg) IsHeartbeat() bool {
	if m.Code == Unset {
		return strings.HasPrefix(m.Msg, "Heartbeat")
	}
	return m.Code == SystemCodeHeartbeat
}

// SymbolMappingMsg maps a subscribed symbol to an instrument id.
type SymbolMappingMsg struct {
	Hd             RecordHeader
	STypeIn        uint8
	STypeInSymbol  string
	STypeOut       uint8
	STypeOutSymbol string
	StartTs        uint64
	EndTs          uint64
}

// UnknownMsg is a record type this package does not model.
// Raw borrows the record bytes.
type UnknownMsg struct {
	Hd  RecordHeader
	Raw []byte
}

// Header returns the record header.
func (m *TradeMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *MboMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *OhlcvMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *ErrorMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *SystemMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *SymbolMappingMsg) Header() RecordHeader { return m.Hd }

// Header returns the record header.
func (m *UnknownMsg) Header() RecordHeader { return m.Hd }

func (*TradeMsg) isMessage()         {}
func (*MboMsg) isMessage()           {}
func (*OhlcvMsg) isMessage()         {}
func (*ErrorMsg) isMessage()         {}
func (*SystemMsg) isMessage()        {}
func (*SymbolMappingMsg) isMessage() {}
func (*UnknownMsg) isMessage()       {}

func decodeMessage(h RecordHeader, b []byte, version uint8) (Message, error) {
	need := func(n int) error {
		if len(b) < n {
			return decodeError("%s record of %d bytes is shorter than %d", h.RType, len(b), n)
		}
		return nil
	}
	le := binary.LittleEndian

	switch h.RType {
	case RTypeMbp0:
		if err := need(tradeSize); err != nil {
			return nil, err
		}
		return &TradeMsg{
			Hd:        h,
			Price:     int64(le.Uint64(b[16:24])),
			Size:      le.Uint32(b[24:28]),
			Action:    b[28],
			Side:      b[29],
			Flags:     b[30],
			Depth:     b[31],
			TsRecv:    le.Uint64(b[32:40]),
			TsInDelta: int32(le.Uint32(b[40:44])),
			Sequence:  le.Uint32(b[44:48]),
		}, nil

	case RTypeMbo:
		if err := need(mboSize); err != nil {
			return nil, err
		}
		return &MboMsg{
			Hd:        h,
			OrderID:   le.Uint64(b[16:24]),
			Price:     int64(le.Uint64(b[24:32])),
			Size:      le.Uint32(b[32:36]),
			Flags:     b[36],
			ChannelID: b[37],
			Action:    b[38],
			Side:      b[39],
			TsRecv:    le.Uint64(b[40:48]),
			TsInDelta: int32(le.Uint32(b[48:52])),
			Sequence:  le.Uint32(b[52:56]),
		}, nil

	case RTypeOhlcv1S, RTypeOhlcv1M, RTypeOhlcv1H, RTypeOhlcv1D, RTypeOhlcvEod:
		if err := need(ohlcvSize); err != nil {
			return nil, err
		}
		return &OhlcvMsg{
			Hd:     h,
			Open:   int64(le.Uint64(b[16:24])),
			High:   int64(le.Uint64(b[24:32])),
			Low:    int64(le.Uint64(b[32:40])),
			Close:  int64(le.Uint64(b[40:48])),
			Volume: le.Uint64(b[48:56]),
		}, nil

	case RTypeError:
		if version == 1 {
			if err := need(errorSizeV1); err != nil {
				return nil, err
			}
			return &ErrorMsg{Hd: h, Err: cstr(b[16 : 16+errStrLenV1]), Code: Unset, IsLast: Unset}, nil
		}
		if err := need(errorSizeV2); err != nil {
			return nil, err
		}
		return &ErrorMsg{Hd: h, Err: cstr(b[16 : 16+errStrLenV2]), Code: b[318], IsLast: b[319]}, nil

	case RTypeSystem:
		if version == 1 {
			if err := need(systemSizeV1); err != nil {
				return nil, err
			}
			return &SystemMsg{Hd: h, Msg: cstr(b[16 : 16+systemStrLenV1]), Code: Unset}, nil
		}
		if err := need(systemSizeV2); err != nil {
			return nil, err
		}
		return &SystemMsg{Hd: h, Msg: cstr(b[16 : 16+systemStrLenV2]), Code: b[319]}, nil

	case RTypeSymbolMapping:
		if version == 1 {
			if err := need(symbolMappingSizeV1); err != nil {
				return nil, err
			}
			return &SymbolMappingMsg{
				Hd:             h,
				STypeIn:        Unset,
				STypeInSymbol:  cstr(b[16 : 16+symbolLenV1]),
				STypeOut:       Unset,
				STypeOutSymbol: cstr(b[38 : 38+symbolLenV1]),
				StartTs:        le.Uint64(b[64:72]),
				EndTs:          le.Uint64(b[72:80]),
			}, nil
		}
		if err := need(symbolMappingSizeV2); err != nil {
			return nil, err
		}
		return &SymbolMappingMsg{
			Hd:             h,
			STypeIn:        b[16],
			STypeInSymbol:  cstr(b[17 : 17+symbolLenV2]),
			STypeOut:       b[88],
			STypeOutSymbol: cstr(b[89 : 89+symbolLenV2]),
			StartTs:        le.Uint64(b[160:168]),
			EndTs:          le.Uint64(b[168:176]),
		}, nil

	default:
		return &UnknownMsg{Hd: h, Raw: b}, nil
	}
}

// Encode serializes m in the layout of the given format version.
// The header length is computed from the layout; m's header length is ignored.
func Encode(m Message, version uint8) ([]byte, error) {
	return encodeInto(nil, m, version)
}

// encodeInto is Encode reusing dst's capacity.
func encodeInto(dst []byte, m Message, version uint8) ([]byte, error) {
	if version < 1 || version > CurrentVersion {
		return nil, &FrameError{Kind: FrameErrorVersion, Msg: fmt.Sprintf("unsupported version %d", version)}
	}
	le := binary.LittleEndian
	var b []byte

	switch msg := m.(type) {
	case *TradeMsg:
		b = sized(dst, tradeSize)
		le.PutUint64(b[16:24], uint64(msg.Price))
		le.PutUint32(b[24:28], msg.Size)
		b[28], b[29], b[30], b[31] = msg.Action, msg.Side, msg.Flags, msg.Depth
		le.PutUint64(b[32:40], msg.TsRecv)
		le.PutUint32(b[40:44], uint32(msg.TsInDelta))
		le.PutUint32(b[44:48], msg.Sequence)

	case *MboMsg:
		b = sized(dst, mboSize)
		le.PutUint64(b[16:24], msg.OrderID)
		le.PutUint64(b[24:32], uint64(msg.Price))
		le.PutUint32(b[32:36], msg.Size)
		b[36], b[37], b[38], b[39] = msg.Flags, msg.ChannelID, msg.Action, msg.Side
		le.PutUint64(b[40:48], msg.TsRecv)
		le.PutUint32(b[48:52], uint32(msg.TsInDelta))
		le.PutUint32(b[52:56], msg.Sequence)

	case *OhlcvMsg:
		b = sized(dst, ohlcvSize)
		le.PutUint64(b[16:24], uint64(msg.Open))
		le.PutUint64(b[24:32], uint64(msg.High))
		le.PutUint64(b[32:40], uint64(msg.Low))
		le.PutUint64(b[40:48], uint64(msg.Close))
		le.PutUint64(b[48:56], msg.Volume)

	case *ErrorMsg:
		if version == 1 {
			b = sized(dst, errorSizeV1)
			putCstr(b[16:16+errStrLenV1], msg.Err)
			break
		}
		b = sized(dst, errorSizeV2)
		putCstr(b[16:16+errStrLenV2], msg.Err)
		b[318], b[319] = msg.Code, msg.IsLast

	case *SystemMsg:
		if version == 1 {
			b = sized(dst, systemSizeV1)
			putCstr(b[16:16+systemStrLenV1], msg.Msg)
			break
		}
		b = sized(dst, systemSizeV2)
		putCstr(b[16:16+systemStrLenV2], msg.Msg)
		b[319] = msg.Code

	case *SymbolMappingMsg:
		if version == 1 {
			b = sized(dst, symbolMappingSizeV1)
			putCstr(b[16:16+symbolLenV1], msg.STypeInSymbol)
			putCstr(b[38:38+symbolLenV1], msg.STypeOutSymbol)
			le.PutUint64(b[64:72], msg.StartTs)
			le.PutUint64(b[72:80], msg.EndTs)
			break
		}
		b = sized(dst, symbolMappingSizeV2)
		b[16] = msg.STypeIn
		putCstr(b[17:17+symbolLenV2], msg.STypeInSymbol)
		b[88] = msg.STypeOut
		putCstr(b[89:89+symbolLenV2], msg.STypeOutSymbol)
		le.PutUint64(b[160:168], msg.StartTs)
		le.PutUint64(b[168:176], msg.EndTs)

	case *UnknownMsg:
		if len(msg.Raw) < RecordHeaderSize || len(msg.Raw)%LengthMultiplier != 0 {
			return nil, decodeError("unknown record of %d bytes is not word aligned", len(msg.Raw))
		}
		b = append(dst[:0], msg.Raw...)

	default:
		return nil, decodeError("cannot encode %T", m)
	}

	h := m.Header()
	h.Length = len(b)
	putHeader(b, h)
	return b, nil
}

// AppendTsOut appends a gateway send timestamp trailer to an encoded record
// and adjusts its length.
func AppendTsOut(rec []byte, tsOut uint64) []byte {
	out := make([]byte, len(rec)+tsOutSize)
	copy(out, rec)
	binary.LittleEndian.PutUint64(out[len(rec):], tsOut)
	out[0] = uint8(len(out) / LengthMultiplier)
	return out
}

// STypeName resolves a one-byte stype code, or "" when unset.
func STypeName(code uint8) string {
	s, err := types.STypeFromCode(code)
	if err != nil {
		return ""
	}
	return string(s)
}

// sized returns a zeroed slice of length n, reusing dst when it has room.
func sized(dst []byte, n int) []byte {
	if cap(dst) < n {
		return make([]byte, n)
	}
	b := dst[:n]
	clear(b)
	return b
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// putCstr writes s NUL-terminated into dst, truncating to fit.
func putCstr(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

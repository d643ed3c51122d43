package render

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/justapithecus/livefeed/dbn"
)

// RecordView is the printable form of one decoded record.
// Prices are exact decimals converted from fixed-point nanounits.
type RecordView struct {
	TsEvent      time.Time        `json:"ts_event" yaml:"ts_event"`
	RType        string           `json:"rtype" yaml:"rtype"`
	PublisherID  uint16           `json:"publisher_id" yaml:"publisher_id"`
	InstrumentID uint32           `json:"instrument_id" yaml:"instrument_id"`
	Symbol       string           `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Side         string           `json:"side,omitempty" yaml:"side,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty" yaml:"price,omitempty"`
	Size         uint64           `json:"size,omitempty" yaml:"size,omitempty"`
	Detail       string           `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// priceExp is the decimal exponent of dbn.FixedPriceScale.
const priceExp = -9

// Price converts a fixed-point price. Returns nil for the unset sentinel.
func Price(p int64) *decimal.Decimal {
	if p == dbn.UndefPrice {
		return nil
	}
	d := decimal.New(p, priceExp)
	return &d
}

// FormatPrice renders a fixed-point price, or "" when unset.
func FormatPrice(p int64) string {
	d := Price(p)
	if d == nil {
		return ""
	}
	return d.String()
}

// NewRecordView builds the printable view of msg. symbols may be nil.
func NewRecordView(msg dbn.Message, symbols *SymbolMap) RecordView {
	h := msg.Header()
	v := RecordView{
		TsEvent:      h.EventTime(),
		RType:        h.RType.String(),
		PublisherID:  h.PublisherID,
		InstrumentID: h.InstrumentID,
		Symbol:       symbols.Lookup(h.InstrumentID),
	}

	switch m := msg.(type) {
	case *dbn.TradeMsg:
		v.Price = Price(m.Price)
		v.Size = uint64(m.Size)
		v.Side = sideName(m.Side)
	case *dbn.MboMsg:
		v.Price = Price(m.Price)
		v.Size = uint64(m.Size)
		v.Side = sideName(m.Side)
		v.Detail = fmt.Sprintf("action=%c order_id=%d", printable(m.Action), m.OrderID)
	case *dbn.OhlcvMsg:
		v.Price = Price(m.Close)
		v.Size = m.Volume
		v.Detail = fmt.Sprintf("open=%s high=%s low=%s", FormatPrice(m.Open), FormatPrice(m.High), FormatPrice(m.Low))
	case *dbn.ErrorMsg:
		v.Detail = m.Err
	case *dbn.SystemMsg:
		v.Detail = m.Msg
	case *dbn.SymbolMappingMsg:
		v.Symbol = m.STypeOutSymbol
		v.Detail = fmt.Sprintf("%s -> %s", m.STypeInSymbol, m.STypeOutSymbol)
	case *dbn.UnknownMsg:
		v.Detail = fmt.Sprintf("%d bytes", len(m.Raw))
	}
	return v
}

func sideName(side byte) string {
	switch side {
	case 'A':
		return "ask"
	case 'B':
		return "bid"
	default:
		return ""
	}
}

func printable(b byte) byte {
	if b < 0x20 || b > 0x7e {
		return '?'
	}
	return b
}

// SymbolMap tracks instrument id to symbol mappings announced by the
// gateway. A nil *SymbolMap resolves nothing.
type SymbolMap struct {
	byID map[uint32]string
}

// NewSymbolMap creates an empty map.
func NewSymbolMap() *SymbolMap {
	return &SymbolMap{byID: make(map[uint32]string)}
}

// Observe records the mapping carried by msg, if any.
func (s *SymbolMap) Observe(msg dbn.Message) {
	if s == nil {
		return
	}
	if m, ok := msg.(*dbn.SymbolMappingMsg); ok {
		s.byID[m.Hd.InstrumentID] = m.STypeOutSymbol
	}
}

// Lookup returns the symbol for id, or "" when unknown.
func (s *SymbolMap) Lookup(id uint32) string {
	if s == nil {
		return ""
	}
	return s.byID[id]
}

// Len returns the number of known instruments.
func (s *SymbolMap) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byID)
}

package types

import "fmt"

// Schema names a record schema requested in a subscription.
type Schema string

// Schema constants as spelled on the wire.
const (
	SchemaMbo        Schema = "mbo"
	SchemaMbp1       Schema = "mbp-1"
	SchemaMbp10      Schema = "mbp-10"
	SchemaTbbo       Schema = "tbbo"
	SchemaTrades     Schema = "trades"
	SchemaOhlcv1S    Schema = "ohlcv-1s"
	SchemaOhlcv1M    Schema = "ohlcv-1m"
	SchemaOhlcv1H    Schema = "ohlcv-1h"
	SchemaOhlcv1D    Schema = "ohlcv-1d"
	SchemaDefinition Schema = "definition"
	SchemaStatistics Schema = "statistics"
	SchemaStatus     Schema = "status"
	SchemaImbalance  Schema = "imbalance"
)

// schemaCodes maps schemas to their metadata code. Order is the wire order.
var schemaCodes = []Schema{
	SchemaMbo,
	SchemaMbp1,
	SchemaMbp10,
	SchemaTbbo,
	SchemaTrades,
	SchemaOhlcv1S,
	SchemaOhlcv1M,
	SchemaOhlcv1H,
	SchemaOhlcv1D,
	SchemaDefinition,
	SchemaStatistics,
	SchemaStatus,
	SchemaImbalance,
}

// SchemaMixed is the metadata code for a stream carrying several schemas.
const SchemaMixed uint16 = 0xFFFF

// Valid returns true if s is a known schema.
func (s Schema) Valid() bool {
	_, ok := s.Code()
	return ok
}

// Code returns the metadata code for s.
func (s Schema) Code() (uint16, bool) {
	for i, known := range schemaCodes {
		if known == s {
			return uint16(i), true
		}
	}
	return 0, false
}

// SchemaFromCode resolves a metadata schema code.
// The mixed code resolves to the empty schema.
func SchemaFromCode(code uint16) (Schema, error) {
	if code == SchemaMixed {
		return "", nil
	}
	if int(code) >= len(schemaCodes) {
		return "", fmt.Errorf("unknown schema code %d", code)
	}
	return schemaCodes[code], nil
}

// ParseSchema parses a schema name.
func ParseSchema(s string) (Schema, error) {
	schema := Schema(s)
	if !schema.Valid() {
		return "", fmt.Errorf("unknown schema %q", s)
	}
	return schema, nil
}

// SType names a symbology type.
type SType string

// Symbology type constants as spelled on the wire.
const (
	STypeInstrumentID SType = "instrument_id"
	STypeRawSymbol    SType = "raw_symbol"
	STypeSmart        SType = "smart"
	STypeContinuous   SType = "continuous"
	STypeParent       SType = "parent"
)

var stypeCodes = []SType{
	STypeInstrumentID,
	STypeRawSymbol,
	STypeSmart,
	STypeContinuous,
	STypeParent,
}

// STypeNone is the metadata code for an absent symbology type.
const STypeNone uint8 = 0xFF

// Valid returns true if s is a known symbology type.
func (s SType) Valid() bool {
	_, ok := s.Code()
	return ok
}

// Code returns the metadata code for s.
func (s SType) Code() (uint8, bool) {
	for i, known := range stypeCodes {
		if known == s {
			return uint8(i), true
		}
	}
	return STypeNone, false
}

// STypeFromCode resolves a metadata symbology code.
// STypeNone resolves to the empty SType.
func STypeFromCode(code uint8) (SType, error) {
	if code == STypeNone {
		return "", nil
	}
	if int(code) >= len(stypeCodes) {
		return "", fmt.Errorf("unknown stype code %d", code)
	}
	return stypeCodes[code], nil
}

// ParseSType parses a symbology type name.
func ParseSType(s string) (SType, error) {
	stype := SType(s)
	if !stype.Valid() {
		return "", fmt.Errorf("unknown stype %q", s)
	}
	return stype, nil
}

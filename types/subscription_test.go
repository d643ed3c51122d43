package types //nolint:revive // types is a valid package name

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/livefeed/lserr"
)

func TestSubscription_Validate(t *testing.T) {
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sub     Subscription
		wantErr bool
	}{
		{
			name: "valid",
			sub:  Subscription{Symbols: []string{"ESM4", "NQM4"}, Schema: SchemaTrades, STypeIn: STypeRawSymbol},
		},
		{
			name: "duplicates allowed",
			sub:  Subscription{Symbols: []string{"ESM4", "ESM4"}, Schema: SchemaTrades, STypeIn: STypeRawSymbol},
		},
		{
			name: "all symbols",
			sub:  Subscription{Symbols: []string{AllSymbols}, Schema: SchemaMbo, STypeIn: STypeRawSymbol},
		},
		{
			name: "with start",
			sub:  Subscription{Symbols: []string{"ESM4"}, Schema: SchemaOhlcv1S, STypeIn: STypeRawSymbol, Start: start},
		},
		{
			name:    "no symbols",
			sub:     Subscription{Schema: SchemaTrades, STypeIn: STypeRawSymbol},
			wantErr: true,
		},
		{
			name:    "empty symbol",
			sub:     Subscription{Symbols: []string{"ESM4", ""}, Schema: SchemaTrades, STypeIn: STypeRawSymbol},
			wantErr: true,
		},
		{
			name:    "reserved character",
			sub:     Subscription{Symbols: []string{"ES|M4"}, Schema: SchemaTrades, STypeIn: STypeRawSymbol},
			wantErr: true,
		},
		{
			name:    "unknown schema",
			sub:     Subscription{Symbols: []string{"ESM4"}, Schema: "ticks", STypeIn: STypeRawSymbol},
			wantErr: true,
		},
		{
			name:    "unknown stype",
			sub:     Subscription{Symbols: []string{"ESM4"}, Schema: SchemaTrades, STypeIn: "isin"},
			wantErr: true,
		},
		{
			name:    "snapshot with start",
			sub:     Subscription{Symbols: []string{"ESM4"}, Schema: SchemaMbo, STypeIn: STypeRawSymbol, Start: start, Snapshot: true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, lserr.ErrBadArgument) {
					t.Errorf("expected ErrBadArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSchema_Codes(t *testing.T) {
	for i, s := range []Schema{SchemaMbo, SchemaTrades, SchemaOhlcv1D, SchemaImbalance} {
		code, ok := s.Code()
		if !ok {
			t.Fatalf("case %d: %q has no code", i, s)
		}
		back, err := SchemaFromCode(code)
		if err != nil {
			t.Fatalf("SchemaFromCode(%d) error: %v", code, err)
		}
		if back != s {
			t.Errorf("SchemaFromCode(%d) = %q, want %q", code, back, s)
		}
	}

	if code, _ := SchemaTrades.Code(); code != 4 {
		t.Errorf("trades code = %d, want 4", code)
	}
	if s, err := SchemaFromCode(SchemaMixed); err != nil || s != "" {
		t.Errorf("SchemaFromCode(mixed) = %q, %v; want empty, nil", s, err)
	}
	if _, err := SchemaFromCode(200); err == nil {
		t.Error("SchemaFromCode(200) should fail")
	}
	if _, err := ParseSchema("ticks"); err == nil {
		t.Error("ParseSchema(ticks) should fail")
	}
}

func TestSType_Codes(t *testing.T) {
	if code, _ := STypeRawSymbol.Code(); code != 1 {
		t.Errorf("raw_symbol code = %d, want 1", code)
	}
	if s, err := STypeFromCode(STypeNone); err != nil || s != "" {
		t.Errorf("STypeFromCode(none) = %q, %v; want empty, nil", s, err)
	}
	if s, err := ParseSType("parent"); err != nil || s != STypeParent {
		t.Errorf("ParseSType(parent) = %q, %v", s, err)
	}
}

package signature

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRender(t *testing.T) {
	tests := []struct {
		sig  string
		want Type
		// str is the expected String() rendering. A multi-type input
		// parses to a synthesized struct, which renders in parens.
		str string
	}{
		{"y", Type{Kind: KindByte}, "y"},
		{"ai", Type{Kind: KindArray, Sub: []Type{{Kind: KindInt32}}}, "ai"},
		{"a{si}", Type{Kind: KindDict, Sub: []Type{{Kind: KindString}, {Kind: KindInt32}}}, "a{si}"},
		{"(tt)", Type{Kind: KindStruct, Sub: []Type{{Kind: KindUint64}, {Kind: KindUint64}}}, "(tt)"},
		{"(vvv)aa{ii}", Type{Kind: KindStruct, Sub: []Type{
			{Kind: KindStruct, Sub: []Type{{Kind: KindVariant}, {Kind: KindVariant}, {Kind: KindVariant}}},
			{Kind: KindArray, Sub: []Type{{Kind: KindDict, Sub: []Type{{Kind: KindInt32}, {Kind: KindInt32}}}}},
		}}, "((vvv)aa{ii})"},
	}
	for _, tc := range tests {
		got, err := Parse(tc.sig)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.sig, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Parse(%q) diff (-want +got):\n%s", tc.sig, diff)
		}
		if got.String() != tc.str {
			t.Errorf("Parse(%q).String() = %q, want %q", tc.sig, got.String(), tc.str)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		sig     string
		wantErr error
	}{
		{"a{vi}", ErrShouldBeBaseType},
		{"(", ErrInvalidSignature},
		{"{si}", ErrInvalidSignature},
		{")", ErrInvalidSignature},
		{"z", ErrInvalidSignature},
		{"()", ErrInvalidSignature},
	}
	for _, tc := range tests {
		_, err := Parse(tc.sig)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("Parse(%q) err = %v, want wrapping %v", tc.sig, err, tc.wantErr)
		}
	}
}

func TestNestingTooDeep(t *testing.T) {
	sig := strings.Repeat("a", MaxDepth+1) + "i"
	_, err := Parse(sig)
	if !errors.Is(err, ErrNestingTooDeep) {
		t.Errorf("Parse(deep array) err = %v, want ErrNestingTooDeep", err)
	}

	sig = strings.Repeat("(", MaxDepth+1) + "i" + strings.Repeat(")", MaxDepth+1)
	_, err = Parse(sig)
	if !errors.Is(err, ErrNestingTooDeep) {
		t.Errorf("Parse(deep struct) err = %v, want ErrNestingTooDeep", err)
	}
}

func TestSignatureTooLong(t *testing.T) {
	sig := strings.Repeat("i", MaxLength+1)
	_, err := Parse(sig)
	if !errors.Is(err, ErrSignatureTooLong) {
		t.Errorf("Parse(long sig) err = %v, want ErrSignatureTooLong", err)
	}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		t    Type
		want int
	}{
		{Type{Kind: KindByte}, 1},
		{Type{Kind: KindSignature}, 1},
		{Type{Kind: KindInt16}, 2},
		{Type{Kind: KindUint32}, 4},
		{Type{Kind: KindBool}, 4},
		{Type{Kind: KindUnixFD}, 4},
		{Type{Kind: KindString}, 4},
		{Type{Kind: KindArray, Sub: []Type{{Kind: KindByte}}}, 4},
		{Type{Kind: KindInt64}, 8},
		{Type{Kind: KindStruct, Sub: []Type{{Kind: KindByte}}}, 8},
		{Type{Kind: KindVariant}, 1},
	}
	for _, tc := range tests {
		if got := tc.t.Align(); got != tc.want {
			t.Errorf("%s.Align() = %d, want %d", tc.t, got, tc.want)
		}
	}
}

func TestBuffer(t *testing.T) {
	var b Buffer
	b.PushString("ai")
	if b.String() != "ai" {
		t.Fatalf("after single push, got %q", b.String())
	}
	b.PushByte('i')
	if b.String() != "aii" {
		t.Fatalf("after second push, got %q", b.String())
	}
}

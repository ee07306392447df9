package sqltoken

import "testing"

func TestTokenizeSimpleSelect(t *testing.T) {
	toks, err := Tokenize("SELECT a, b FROM t WHERE a = 1")
	if err != nil {
		t.Fatalf("Tokenize: unexpected error: %v", err)
	}
	wantKinds := []Kind{
		KindKeyword, KindIdentifier, KindComma, KindIdentifier,
		KindKeyword, KindIdentifier,
		KindKeyword, KindIdentifier, KindOperator, KindNumber,
		KindEOF,
	}
	if len(toks) != len(wantKinds) {
		t.Fatalf("Tokenize: got %d tokens, want %d: %+v", len(toks), len(wantKinds), toks)
	}
	for i, want := range wantKinds {
		if toks[i].Kind != want {
			t.Errorf("token %d: got kind %v, want %v (text %q)", i, toks[i].Kind, want, toks[i].Text)
		}
	}
}

func TestTokenizeStarAndString(t *testing.T) {
	toks, err := Tokenize("SELECT * FROM t WHERE name = 'O''Brien'")
	if err != nil {
		t.Fatalf("Tokenize: unexpected error: %v", err)
	}
	var star, str bool
	for _, tok := range toks {
		if tok.Kind == KindStar {
			star = true
		}
		if tok.Kind == KindString {
			str = true
			if tok.Text != "O'Brien" {
				t.Errorf("string token: got %q, want %q", tok.Text, "O'Brien")
			}
		}
	}
	if !star {
		t.Error("expected a KindStar token")
	}
	if !str {
		t.Error("expected a KindString token")
	}
}

func TestTokenizeUnrecognizedCharacter(t *testing.T) {
	_, err := Tokenize("SELECT a FROM t WHERE a = #1")
	if err == nil {
		t.Fatal("Tokenize: expected an error for '#'")
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", int64(42)},
		{"3.5", float64(3.5)},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.in)
		if err != nil {
			t.Fatalf("ParseNumber(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseNumber(%q) = %v (%T), want %v (%T)", tt.in, got, got, tt.want, tt.want)
		}
	}
}

package match

import "testing"

func TestKeywords(t *testing.T) {
	candidates := [][]string{
		{"oro"},
		{"plata"},
		{"premium", "vip"},
	}

	tests := []struct {
		name    string
		text    string
		wantIdx int
		wantOK  bool
	}{
		{"exact keyword", "oro", 0, true},
		{"keyword inside sentence", "quiero el plan ORO por favor", 0, true},
		{"second candidate", "informacion del plan plata", 1, true},
		{"later keyword in set", "soy vip", 2, true},
		{"first match wins across candidates", "plan oro o plata", 0, true},
		{"no match", "hola buenas tardes", 0, false},
		{"empty text", "   ", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := Keywords(tt.text, candidates)
			if ok != tt.wantOK || (ok && idx != tt.wantIdx) {
				t.Errorf("Keywords(%q) = (%d, %v), want (%d, %v)", tt.text, idx, ok, tt.wantIdx, tt.wantOK)
			}
		})
	}
}

func TestKeywordsIgnoresShortKeywords(t *testing.T) {
	// Two-letter tokens trigger on nearly any message and must not match.
	candidates := [][]string{{"de"}}
	if _, ok := Keywords("mensaje de prueba", candidates); ok {
		t.Error("expected short keyword to be ignored")
	}
}

func TestNumberOrWord(t *testing.T) {
	methods := []string{"tarjeta", "yape"}

	tests := []struct {
		name   string
		text   string
		wantN  int
		wantOK bool
	}{
		{"number one", "1", 1, true},
		{"number two", "2", 2, true},
		{"number out of range", "3", 0, false},
		{"exact word", "yape", 2, true},
		{"exact word different case", "TARJETA", 1, true},
		{"word inside phrase", "quiero pagar con yape", 2, true},
		{"prefix of word", "tarj", 1, true},
		{"no match", "efectivo", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := NumberOrWord(tt.text, methods)
			if ok != tt.wantOK || (ok && n != tt.wantN) {
				t.Errorf("NumberOrWord(%q) = (%d, %v), want (%d, %v)", tt.text, n, ok, tt.wantN, tt.wantOK)
			}
		})
	}
}

func TestNumberOrWordEmptyWords(t *testing.T) {
	if _, ok := NumberOrWord("1", nil); ok {
		t.Error("expected no match against empty word list")
	}
}

func TestContainsAny(t *testing.T) {
	vocab := []string{"1", "2", "pase vip", "vip", "general"}

	tests := []struct {
		text string
		want bool
	}{
		{"1", true},
		{"quiero el pase vip", true},
		{"VIP por favor", true},
		{"modalidad general", true},
		{"hola", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ContainsAny(tt.text, vocab); got != tt.want {
			t.Errorf("ContainsAny(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		text   string
		max    int
		wantN  int
		wantOK bool
	}{
		{"1", 4, 1, true},
		{"4", 4, 4, true},
		{" 2 ", 4, 2, true},
		{"5", 4, 0, false},
		{"0", 4, 0, false},
		{"-1", 4, 0, false},
		{"uno", 4, 0, false},
	}

	for _, tt := range tests {
		n, ok := Number(tt.text, tt.max)
		if ok != tt.wantOK || (ok && n != tt.wantN) {
			t.Errorf("Number(%q, %d) = (%d, %v), want (%d, %v)", tt.text, tt.max, n, ok, tt.wantN, tt.wantOK)
		}
	}
}

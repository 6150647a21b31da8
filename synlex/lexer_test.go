package synlex

import "testing"

func types(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, t := range tokens {
		out[i] = t.Type
	}
	return out
}

func sameTypes(got, want []TokenType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestScanOperators(t *testing.T) {
	tokens, err := New("== != <= >= <=> <- :: && ||").Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []TokenType{EQ, NE, LE, GE, CMP3, NEWSLOT, DCOLON, AND, OR, EOF}
	if got := types(tokens); !sameTypes(got, want) {
		t.Errorf("Scan() types = %v, want %v", got, want)
	}
}

func TestScanKeywordsAndIdentifiers(t *testing.T) {
	tokens, err := New("function foo(this, x) { local bar = x }").Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []TokenType{
		KW_FUNCTION, IDENTIFIER, LPAREN, KW_THIS, COMMA, IDENTIFIER, RPAREN,
		LBRACE, KW_LOCAL, IDENTIFIER, ASSIGN, IDENTIFIER, RBRACE, EOF,
	}
	if got := types(tokens); !sameTypes(got, want) {
		t.Errorf("Scan() types = %v, want %v", got, want)
	}
}

func TestScanStringAndNumberLiterals(t *testing.T) {
	tokens, err := New(`"hello" 42 3.5`).Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []TokenType{STRING, INT, FLOAT, EOF}
	if got := types(tokens); !sameTypes(got, want) {
		t.Errorf("Scan() types = %v, want %v", got, want)
	}
	if tokens[0].Lexeme != "hello" {
		t.Errorf("string Lexeme = %q, want %q", tokens[0].Lexeme, "hello")
	}
}

func TestScanSkipsComments(t *testing.T) {
	tokens, err := New("local x // trailing comment\n/* block */ local y").Scan()
	if err != nil {
		t.Fatalf("Scan() raised an error: %v", err)
	}
	want := []TokenType{KW_LOCAL, IDENTIFIER, KW_LOCAL, IDENTIFIER, EOF}
	if got := types(tokens); !sameTypes(got, want) {
		t.Errorf("Scan() types = %v, want %v", got, want)
	}
}

func TestScanUnterminatedString(t *testing.T) {
	_, err := New(`"unterminated`).Scan()
	if err == nil {
		t.Fatal("expected error for unterminated string, got nil")
	}
}

package embedding

import (
	"testing"
)

func TestRecordTokenizer_Tokenize(t *testing.T) {
	tok := &RecordTokenizer{}
	ids, attn, types := tok.Tokenize(`{"name":"Ada"}`, 10)
	if len(ids) != 10 || len(types) != 10 {
		t.Errorf("len(ids)=%d len(types)=%d", len(ids), len(types))
	}
	if ids[0] != 101 {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	// [CLS] name ada [SEP]
	if ids[3] != 102 {
		t.Errorf("expected SEP at 3, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask = %v", attn)
	}
}

func TestRecordTokenizer_Truncates(t *testing.T) {
	tok := &RecordTokenizer{}
	ids, _, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	if ids[3] != 102 {
		t.Errorf("expected SEP in last slot, got %d", ids[3])
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords(`  {"Email": "ada@example.com", "tags":["VIP"]}  `)
	want := []string{"email", "ada@example.com", "tags", "vip"}
	if len(words) != len(want) {
		t.Fatalf("SplitWords = %v", words)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %q, want %q", i, words[i], want[i])
		}
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a very long string that overflows the hash accumulator many times") < 0 {
		t.Error("hash should be non-negative")
	}
}

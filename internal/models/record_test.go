package models

import (
	"encoding/json"
	"testing"
)

func TestRecord_CanonicalTextSortsKeys(t *testing.T) {
	a := Record{"name": "Ada", "email": "ada@example.com", "id": 7}
	b := Record{"id": 7, "email": "ada@example.com", "name": "Ada"}
	ta, err := a.CanonicalText()
	if err != nil {
		t.Fatal(err)
	}
	tb, _ := b.CanonicalText()
	if ta != tb {
		t.Errorf("canonical text differs: %q vs %q", ta, tb)
	}
	if ta != `{"email":"ada@example.com","id":7,"name":"Ada"}` {
		t.Errorf("unexpected canonical text %q", ta)
	}
}

func TestNewMetadata(t *testing.T) {
	meta, err := NewMetadata("contacts", Record{"name": "Ada"}, map[string]any{
		"source": "crm",
		"batch":  3,
		"labels": []any{"vip", "eu"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if meta.Category != "contacts" {
		t.Errorf("Category = %q", meta.Category)
	}
	if meta.Tags["source"] != "crm" || meta.Tags["batch"] != "3" || meta.Tags["labels"] != `["vip","eu"]` {
		t.Errorf("Tags = %v", meta.Tags)
	}

	raw, _ := json.Marshal(meta)
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "contacts" {
		t.Errorf("type key = %v", decoded["type"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok || data["name"] != "Ada" {
		t.Errorf("data key = %v", decoded["data"])
	}
}

func TestTagPairs(t *testing.T) {
	pairs := TagPairs(map[string]string{"b": "2", "a": "1"})
	if len(pairs) != 2 || pairs[0] != "a=1" || pairs[1] != "b=2" {
		t.Errorf("TagPairs = %v", pairs)
	}
	if len(StringifyTags(nil)) != 0 {
		t.Error("nil extras should produce no tags")
	}
}

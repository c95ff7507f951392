package jsonextract

import (
	"reflect"
	"testing"
)

func TestFind_ObjectInProse(t *testing.T) {
	var out map[string]any
	err := Find(`Sure thing, here you go: {"a": 1, "b": [1,2,3]} -- hope that helps!`, &out)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if out["a"].(float64) != 1 {
		t.Fatalf("a = %v, want 1", out["a"])
	}
}

func TestFind_ArrayFirst(t *testing.T) {
	var out []string
	err := Find(`["trip","work"]`, &out)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !reflect.DeepEqual(out, []string{"trip", "work"}) {
		t.Fatalf("out = %v", out)
	}
}

func TestFind_IgnoresBracketsInStrings(t *testing.T) {
	var out map[string]any
	err := Find(`prefix "[not json]" then {"x": "}weird{"}`, &out)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if out["x"] != "}weird{" {
		t.Fatalf("x = %v", out["x"])
	}
}

func TestFind_NoValue(t *testing.T) {
	var out map[string]any
	if err := Find("no json here at all", &out); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFind_Unbalanced(t *testing.T) {
	var out map[string]any
	if err := Find(`{"a": 1`, &out); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

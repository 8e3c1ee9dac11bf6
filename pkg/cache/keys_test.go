package cache

import (
	"strings"
	"testing"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey(NamespaceSection, []string{"Topic", "Intro", "tone: formal"}, nil)
	b := DeriveKey(NamespaceSection, []string{"  topic ", "INTRO", "Tone: Formal"}, nil)

	if a != b {
		t.Errorf("keys should be case- and whitespace-insensitive:\n  %q\n  %q", a, b)
	}
	if !strings.HasPrefix(a, NamespaceSection+":") {
		t.Errorf("key should carry the namespace prefix, got %q", a)
	}
}

func TestDeriveKey_UnorderedPermutation(t *testing.T) {
	a := DeriveKey(NamespaceReport, []string{"topic", "guide"}, []string{"alpha", "beta", "gamma"})
	b := DeriveKey(NamespaceReport, []string{"topic", "guide"}, []string{"gamma", "alpha", "beta"})

	if a != b {
		t.Errorf("unordered fields should not affect the key:\n  %q\n  %q", a, b)
	}

	c := DeriveKey(NamespaceReport, []string{"topic", "guide"}, []string{"alpha", "beta"})
	if a == c {
		t.Error("different section sets must derive different keys")
	}
}

func TestDeriveKey_OrderedFieldsKeepPosition(t *testing.T) {
	a := DeriveKey(NamespaceSection, []string{"one", "two"}, nil)
	b := DeriveKey(NamespaceSection, []string{"two", "one"}, nil)

	if a == b {
		t.Error("ordered fields must keep their position")
	}
}

func TestDeriveKey_LengthBound(t *testing.T) {
	long := strings.Repeat("x", 500)
	key := DeriveKey(NamespaceReport, []string{long, long}, []string{long})

	// Namespace + truncated debug prefix + 16 hex chars + separators.
	if len(key) > maxIdentityLength+len(NamespaceReport)+2 {
		t.Errorf("hashed key too long: %d chars", len(key))
	}
	if !strings.HasPrefix(key, NamespaceReport+":"+long[:hashDebugPrefixLength]+":") {
		t.Errorf("hashed key should keep a readable first-field prefix, got %q", key)
	}
}

func TestDeriveKey_LongInputsStayDeterministic(t *testing.T) {
	long := strings.Repeat("section about a very specific subject ", 10)
	a := DeriveKey(NamespaceSection, []string{"t", long, "g"}, nil)
	b := DeriveKey(NamespaceSection, []string{"T", strings.ToUpper(long), " g "}, nil)

	if a != b {
		t.Error("hashing must happen after normalization")
	}
}

func TestDeriveKey_EmptyFields(t *testing.T) {
	key := DeriveKey(NamespaceSection, []string{"", "", ""}, nil)
	if !strings.HasPrefix(key, NamespaceSection+":") {
		t.Errorf("empty fields should still derive a namespaced key, got %q", key)
	}
}

func TestReportKey_SectionOrderInvariant(t *testing.T) {
	a := ReportKey("go", "", []string{"History", "Concurrency"})
	b := ReportKey("go", "", []string{"concurrency", "history"})
	if a != b {
		t.Error("report key must be invariant to section order and case")
	}
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Cache key namespaces. Every key is "<namespace>:<identity>".
const (
	NamespaceReport  = "research"
	NamespaceSection = "section"
	NamespaceMeta    = "meta"
)

// maxIdentityLength bounds the literal identity portion of a key. Longer
// identities are replaced by a content hash so keys stay within Redis-friendly
// lengths.
const maxIdentityLength = 200

// hashDebugPrefixLength caps the human-readable prefix kept in front of a
// hashed identity.
const hashDebugPrefixLength = 32

// DeriveKey derives a stable cache key from a namespace prefix and semantic
// fields. Ordered fields keep their position; unordered fields are sorted
// lexicographically first, so key equality is invariant to their input order.
// Fields are trimmed and lower-cased, making keys case- and
// whitespace-insensitive. Identities longer than 200 characters collapse to
// "<prefix>:<firstField>:<sha256[:16]>" with the first field retained for
// debuggability.
//
// DeriveKey is pure: no I/O, no errors, empty fields are valid.
func DeriveKey(prefix string, fields []string, unordered []string) string {
	parts := make([]string, 0, len(fields)+len(unordered))
	for _, f := range fields {
		parts = append(parts, normalizeField(f))
	}

	if len(unordered) > 0 {
		sorted := make([]string, 0, len(unordered))
		for _, f := range unordered {
			sorted = append(sorted, normalizeField(f))
		}
		sort.Strings(sorted)
		parts = append(parts, sorted...)
	}

	identity := strings.Join(parts, ":")
	if len(identity) > maxIdentityLength {
		sum := sha256.Sum256([]byte(identity))
		first := ""
		if len(parts) > 0 {
			first = parts[0]
		}
		if len(first) > hashDebugPrefixLength {
			first = first[:hashDebugPrefixLength]
		}
		identity = first + ":" + hex.EncodeToString(sum[:])[:16]
	}

	return prefix + ":" + identity
}

// SectionKey derives the cache key for a single section result.
func SectionKey(topic, section, guidance string) string {
	return DeriveKey(NamespaceSection, []string{topic, section, guidance}, nil)
}

// ReportKey derives the whole-job cache key. The section list is unordered:
// the same sections in any order address the same report.
func ReportKey(topic, guidance string, sections []string) string {
	return DeriveKey(NamespaceReport, []string{topic, guidance}, sections)
}

// MetaKey derives the key for the metadata record stored alongside a report.
func MetaKey(reportKey string) string {
	return DeriveKey(NamespaceMeta, []string{reportKey}, nil)
}

func normalizeField(f string) string {
	return strings.ToLower(strings.TrimSpace(f))
}

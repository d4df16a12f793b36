// Package gridtypes holds the data model shared by every grid control-plane
// component: capability blobs, slots, sessions, nodes, and the error kinds
// surfaced at the HTTP boundary.
package gridtypes

import "strings"

// wildcard is the capability value that satisfies a blob key trivially,
// regardless of what the stereotype declares for that key.
const wildcard = "ANY"

// Capabilities is an unordered mapping from capability name to a
// JSON-scalar-or-object value. It is used both as a request ("what the
// caller wants") and as a stereotype ("what a slot can serve").
type Capabilities map[string]any

// Clone returns a shallow copy of c. A nil receiver returns an empty, non-nil
// map so callers never need a nil check before mutating the result.
func (c Capabilities) Clone() Capabilities {
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a new Capabilities containing c's entries overlaid with
// overlay's entries; overlay wins on key collision.
func (c Capabilities) Merge(overlay Capabilities) Capabilities {
	out := c.Clone()
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// Equal reports whether c and other contain exactly the same keys mapped to
// equal values. Values are compared with reflect.DeepEqual semantics via a
// type switch covering the JSON-decodable value shapes (string, float64,
// bool, nil, map[string]any, []any); anything else falls back to `==`.
func (c Capabilities) Equal(other Capabilities) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		ov, ok := other[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !valuesEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// platformFamily maps a requested platform name to the set of stereotype
// platform names it is satisfied by (WINDOWS matches WIN10, LINUX matches
// UBUNTU, etc.). A platform always satisfies itself.
var platformFamily = map[string][]string{
	"WINDOWS": {"WINDOWS", "WIN10", "WIN11", "XP", "VISTA"},
	"LINUX":   {"LINUX", "UBUNTU", "DEBIAN", "FEDORA"},
	"MAC":     {"MAC", "MACOS", "MONTEREY", "VENTURA", "SONOMA"},
}

func platformSatisfies(requested, declared string) bool {
	if strings.EqualFold(requested, declared) {
		return true
	}
	family, ok := platformFamily[strings.ToUpper(requested)]
	if !ok {
		return false
	}
	for _, member := range family {
		if strings.EqualFold(member, declared) {
			return true
		}
	}
	return false
}

// Satisfies reports whether the stereotype c can serve a request blob:
//
//   - a blob value of the wildcard sentinel "ANY" is trivially satisfied;
//   - "browserName" is matched by exact string equality;
//   - "platformName" is matched against the platform family tree;
//   - "browserVersion" is matched as a string prefix (a request for "90"
//     matches a stereotype of "90.0.4430.93") and is treated as "don't
//     care" when absent from the stereotype;
//   - any other key configured as informational is likewise "don't care"
//     when absent from the stereotype;
//   - every other key must be present on the stereotype with an equal
//     value, or the match fails.
func (c Capabilities) Satisfies(blob Capabilities, informational map[string]bool) bool {
	for key, want := range blob {
		if s, ok := want.(string); ok && s == wildcard {
			continue
		}

		have, present := c[key]

		switch key {
		case "browserVersion":
			if !present {
				continue // don't care
			}
			wantStr, _ := want.(string)
			haveStr, _ := have.(string)
			if !strings.HasPrefix(haveStr, wantStr) {
				return false
			}
			continue
		case "platformName":
			if !present {
				return false
			}
			wantStr, _ := want.(string)
			haveStr, _ := have.(string)
			if !platformSatisfies(wantStr, haveStr) {
				return false
			}
			continue
		}

		if !present {
			if informational[key] {
				continue
			}
			return false
		}
		if !valuesEqual(want, have) {
			return false
		}
	}
	return true
}

// Package escalation recognizes the human-handoff sentinel inside the raw
// model stream and keeps it out of the user-visible output.
//
// The sentinel is a cleartext substring and could in principle occur inside
// a quoted user text; a safer design would signal handoff out-of-band (model
// tool call). The tradeoff is recorded in DESIGN.md.
package escalation

import "strings"

// Sentinel is the literal marker the model emits to request human handoff.
// It is embedded by the backend prompt and must never reach the end user.
const Sentinel = "ESKALATION_NOETIG"

// Detector scans the raw (anonymized) model stream for the sentinel. The
// sentinel is detected even when split across fragments: a rolling tail of
// len(Sentinel)-1 bytes is kept between calls.
type Detector struct {
	tail  string
	found bool
}

// Feed consumes one raw fragment and returns true the first time the
// sentinel completes. Later occurrences within the same stream do not fire
// again; escalation is a once-per-turn event.
func (d *Detector) Feed(frag string) bool {
	if d.found {
		return false
	}
	s := d.tail + frag
	if strings.Contains(s, Sentinel) {
		d.found = true
		d.tail = ""
		return true
	}
	if keep := len(Sentinel) - 1; len(s) > keep {
		s = s[len(s)-keep:]
	}
	d.tail = s
	return false
}

// Triggered reports whether the sentinel was seen anywhere in the stream.
func (d *Detector) Triggered() bool {
	return d.found
}

// Stripper removes the sentinel from the user-visible fragment stream. Only
// a trailing proper prefix of the sentinel is ever withheld, so ordinary
// text flows through with at most len(Sentinel)-1 bytes of latency.
type Stripper struct {
	pending string
}

// Feed consumes one fragment and returns the portion that is safe to emit.
func (st *Stripper) Feed(frag string) string {
	s := st.pending + frag
	st.pending = ""

	s = strings.ReplaceAll(s, Sentinel, "")

	// Withhold the longest suffix that could still grow into the sentinel.
	max := len(Sentinel) - 1
	if max > len(s) {
		max = len(s)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(s, Sentinel[:k]) {
			st.pending = s[len(s)-k:]
			return s[:len(s)-k]
		}
	}
	return s
}

// Flush returns whatever is still withheld at end of stream. A residue here
// is a sentinel prefix that never completed; it is emitted as-is.
func (st *Stripper) Flush() string {
	s := st.pending
	st.pending = ""
	return s
}

package scanner

import (
	"context"
	"regexp"
	"strings"
)

// candidatePattern anchors the placeholder grammar for whole-token checks.
var candidatePattern = regexp.MustCompile(`^<[A-Z]+_[0-9a-f]+>$`)

// Resolver is the vault read surface the restorer needs.
type Resolver interface {
	Get(ctx context.Context, placeholder string) string
}

// Restorer re-substitutes vault placeholders in an asynchronous fragment
// stream. It is a buffered state machine with three guarantees:
//
//   - a placeholder split across any number of input fragments is reassembled
//     before emission, so no emitted fragment ever contains a partial tag;
//   - a '<' that cannot start a placeholder (next byte not in A-Z, or the
//     closed '<…>' run does not match the grammar) is flushed promptly and
//     verbatim, so benign markup like "<br>" or "< 5 ms" passes through;
//   - the emitted output depends only on the concatenation of the input, not
//     on how it was fragmented.
type Restorer struct {
	vault  Resolver
	buffer int
}

// NewRestorer creates a Restorer. buffer sizes the output channel.
func NewRestorer(v Resolver, buffer int) *Restorer {
	if buffer < 1 {
		buffer = 1
	}
	return &Restorer{vault: v, buffer: buffer}
}

// Restore consumes the fragment stream and emits the restored stream. The
// output channel is closed once the input is drained; any residue held at
// end of stream (an unterminated suspected placeholder) is emitted as-is —
// best-effort visibility over data loss.
func (r *Restorer) Restore(ctx context.Context, in <-chan string) <-chan string {
	out := make(chan string, r.buffer)

	go func() {
		defer close(out)

		emit := func(s string) bool {
			if s == "" {
				return true
			}
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var buf string
		for frag := range in {
			buf += frag
			var ok bool
			buf, ok = r.drain(ctx, buf, emit)
			if !ok {
				// Consumer is gone; keep draining the producer side so the
				// tee upstream is not blocked.
				for range in {
				}
				return
			}
		}
		if buf != "" {
			emit(buf)
		}
	}()

	return out
}

// drain flushes everything in buf that is already unambiguous and returns
// the residue that must wait for more input. The emit callback reports false
// when the consumer cancelled.
func (r *Restorer) drain(ctx context.Context, buf string, emit func(string) bool) (string, bool) {
	for {
		i := strings.IndexByte(buf, '<')
		if i == -1 {
			if !emit(buf) {
				return "", false
			}
			return "", true
		}
		if i > 0 {
			if !emit(buf[:i]) {
				return "", false
			}
			buf = buf[i:]
		}

		// buf now starts with '<'. A '<' whose next byte is not in A-Z can
		// never start a placeholder; flush it before looking for '>', so the
		// result does not depend on where the next '>' happens to arrive.
		if len(buf) >= 2 && (buf[1] < 'A' || buf[1] > 'Z') {
			if !emit("<") {
				return "", false
			}
			buf = buf[1:]
			continue
		}

		j := strings.IndexByte(buf, '>')
		if j != -1 {
			cand := buf[:j+1]
			if candidatePattern.MatchString(cand) {
				if !emit(r.vault.Get(ctx, cand)) {
					return "", false
				}
			} else if !emit(cand) {
				return "", false
			}
			buf = buf[j+1:]
			continue
		}

		// No '>' yet and this '<' can still start a placeholder: wait for
		// more input.
		return buf, true
	}
}

// RestoreString is the non-streaming restoration used by tests: the whole
// text is fed as a single fragment and the emitted fragments are
// concatenated.
func (r *Restorer) RestoreString(ctx context.Context, text string) string {
	in := make(chan string, 1)
	in <- text
	close(in)

	var sb strings.Builder
	for frag := range r.Restore(ctx, in) {
		sb.WriteString(frag)
	}
	return sb.String()
}

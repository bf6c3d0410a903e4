package scanner

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver resolves placeholders from a map and passes unknown ones
// through unchanged, mirroring the vault contract.
type fakeResolver struct {
	entries map[string]string
}

func (f *fakeResolver) Get(_ context.Context, placeholder string) string {
	if v, ok := f.entries[placeholder]; ok {
		return v
	}
	return placeholder
}

func restoreFragments(t *testing.T, r *Restorer, frags []string) []string {
	t.Helper()
	in := make(chan string, len(frags))
	for _, f := range frags {
		in <- f
	}
	close(in)

	var out []string
	for frag := range r.Restore(context.Background(), in) {
		out = append(out, frag)
	}
	return out
}

func TestRestorerSplitPlaceholder(t *testing.T) {
	r := NewRestorer(&fakeResolver{entries: map[string]string{
		"<PERSON_abc12345>": "Peter",
	}}, 8)

	out := restoreFragments(t, r, []string{"Hallo ", "<PERSO", "N_abc12345> ", "wie geht", " es dir?"})
	assert.Equal(t, "Hallo Peter wie geht es dir?", strings.Join(out, ""))
}

func TestRestorerBenignMarkupPreserved(t *testing.T) {
	r := NewRestorer(&fakeResolver{}, 8)

	out := restoreFragments(t, r, []string{"Nutze ", "<br>", " hier"})
	assert.Equal(t, "Nutze <br> hier", strings.Join(out, ""))
}

func TestRestorerComparisonSignFlushedPromptly(t *testing.T) {
	r := NewRestorer(&fakeResolver{}, 8)

	in := make(chan string, 2)
	in <- "unter < 5 ms"
	out := r.Restore(context.Background(), in)

	var got strings.Builder
	// Everything up to and including '<' must arrive without waiting for
	// more input: '<' is followed by a space, which disambiguates it.
	for i := 0; i < 2; i++ {
		got.WriteString(<-out)
	}
	assert.Equal(t, "unter <", got.String())

	close(in)
	for frag := range out {
		got.WriteString(frag)
	}
	assert.Equal(t, "unter < 5 ms", got.String())
}

func TestRestorerRefragmentationInvariance(t *testing.T) {
	resolver := &fakeResolver{entries: map[string]string{
		"<EMAIL_00ff00ff>":  "peter@example.com",
		"<PERSON_deadbeef>": "Peter Müller",
	}}
	text := "Hi <PERSON_deadbeef>, deine Mail <EMAIL_00ff00ff> und <br> bleiben < 3 erhalten."

	r := NewRestorer(resolver, 8)
	want := r.RestoreString(context.Background(), text)
	require.Contains(t, want, "Peter Müller")
	require.Contains(t, want, "peter@example.com")
	require.Contains(t, want, "<br>")

	// Split the input at every possible single cut point plus a per-byte
	// fragmentation: the output must not depend on fragmentation.
	for cut := 0; cut <= len(text); cut++ {
		out := restoreFragments(t, r, []string{text[:cut], text[cut:]})
		assert.Equal(t, want, strings.Join(out, ""), "cut at %d", cut)
	}

	var bytewise []string
	for i := 0; i < len(text); i++ {
		bytewise = append(bytewise, text[i:i+1])
	}
	out := restoreFragments(t, r, bytewise)
	assert.Equal(t, want, strings.Join(out, ""))
}

func TestRestorerNoPartialPlaceholderEmitted(t *testing.T) {
	r := NewRestorer(&fakeResolver{entries: map[string]string{
		"<CITY_0a0b0c0d>": "Hamburg",
	}}, 8)

	partial := regexp.MustCompile(`<[A-Z]+[_0-9a-f]*$`)
	out := restoreFragments(t, r, []string{"Ich wohne in <CI", "TY_0a0b", "0c0d> zentral"})
	for _, frag := range out {
		assert.NotRegexp(t, partial, frag, "fragment %q leaks a partial placeholder", frag)
	}
	assert.Equal(t, "Ich wohne in Hamburg zentral", strings.Join(out, ""))
}

func TestRestorerEndOfStreamResidue(t *testing.T) {
	r := NewRestorer(&fakeResolver{}, 8)

	// An unterminated suspected placeholder is emitted as-is at EOS.
	out := restoreFragments(t, r, []string{"Rest: ", "<PERSON_ab"})
	assert.Equal(t, "Rest: <PERSON_ab", strings.Join(out, ""))
}

func TestRestorerUnknownPlaceholderPassesThrough(t *testing.T) {
	r := NewRestorer(&fakeResolver{}, 8)

	// Restoration is idempotent: a placeholder without a vault entry (or an
	// already-restored text) survives unchanged.
	out := restoreFragments(t, r, []string{"x <PERSON_12345678> y"})
	assert.Equal(t, "x <PERSON_12345678> y", strings.Join(out, ""))
}

func TestRestoreStringMatchesStreaming(t *testing.T) {
	resolver := &fakeResolver{entries: map[string]string{
		"<PHONE_11223344>": "+49 40 123456",
	}}
	r := NewRestorer(resolver, 8)
	text := "Ruf an: <PHONE_11223344>!"

	streamed := restoreFragments(t, r, []string{text})
	assert.Equal(t, r.RestoreString(context.Background(), text), strings.Join(streamed, ""))
}

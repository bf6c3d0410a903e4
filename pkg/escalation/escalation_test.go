package escalation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectorFindsSentinelInSingleFragment(t *testing.T) {
	d := &Detector{}
	assert.True(t, d.Feed("Ich kann nicht helfen. ESKALATION_NOETIG"))
	assert.True(t, d.Triggered())
}

func TestDetectorFindsSentinelSplitAcrossFragments(t *testing.T) {
	d := &Detector{}
	assert.False(t, d.Feed("Ich kann nicht helfen. ESKALA"))
	assert.True(t, d.Feed("TION_NOETIG"))
	assert.True(t, d.Triggered())
}

func TestDetectorFindsSentinelSplitPerByte(t *testing.T) {
	d := &Detector{}
	fired := 0
	for _, b := range []byte("vorher " + Sentinel + " nachher") {
		if d.Feed(string(b)) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
	assert.True(t, d.Triggered())
}

func TestDetectorFiresOnce(t *testing.T) {
	d := &Detector{}
	assert.True(t, d.Feed(Sentinel))
	assert.False(t, d.Feed(Sentinel))
	assert.True(t, d.Triggered())
}

func TestDetectorNoFalsePositive(t *testing.T) {
	d := &Detector{}
	assert.False(t, d.Feed("ESKALATION ist hier kein Signal"))
	assert.False(t, d.Feed("NOETIG auch nicht"))
	assert.False(t, d.Triggered())
}

func TestStripperRemovesWholeSentinel(t *testing.T) {
	st := &Stripper{}
	out := st.Feed("Ich kann nicht helfen. "+Sentinel) + st.Flush()
	assert.Equal(t, "Ich kann nicht helfen. ", out)
}

func TestStripperRemovesSplitSentinel(t *testing.T) {
	st := &Stripper{}
	var out strings.Builder
	out.WriteString(st.Feed("Ich kann nicht helfen. ESKALA"))
	out.WriteString(st.Feed("TION_NOETIG"))
	out.WriteString(st.Flush())
	assert.Equal(t, "Ich kann nicht helfen. ", out.String())
}

func TestStripperEmitsNonSentinelPrefixText(t *testing.T) {
	st := &Stripper{}
	var out strings.Builder
	// "ESKALA" could still grow into the sentinel and is withheld...
	out.WriteString(st.Feed("Plan ESKALA"))
	// ...until the next fragment disambiguates it.
	out.WriteString(st.Feed("DE fertig"))
	out.WriteString(st.Flush())
	assert.Equal(t, "Plan ESKALADE fertig", out.String())
}

func TestStripperFlushEmitsDanglingPrefix(t *testing.T) {
	st := &Stripper{}
	var out strings.Builder
	out.WriteString(st.Feed("Ende mit ESKALAT"))
	out.WriteString(st.Flush())
	// Best-effort visibility: the incomplete prefix surfaces at EOS.
	assert.Equal(t, "Ende mit ESKALAT", out.String())
}

func TestStripperOrdinaryTextUntouched(t *testing.T) {
	st := &Stripper{}
	out := st.Feed("Hallo Peter, wie geht es dir?") + st.Flush()
	assert.Equal(t, "Hallo Peter, wie geht es dir?", out)
}

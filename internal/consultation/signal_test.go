package consultation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readySignal = `<consultation_signal><ready>true</ready>` +
	`<refined_query>hydraulic filter for servo valve at 3000 psi</refined_query>` +
	`<application_domain>hydraulic</application_domain>` +
	`<parameters>{"beta_ratio": 200, "component": "servo valve"}</parameters></consultation_signal>`

func TestParseSignal(t *testing.T) {
	t.Run("present and ready", func(t *testing.T) {
		sig := ParseSignal("Thanks, that is enough.\n" + readySignal)
		assert.Equal(t, SignalPresent, sig.State)
		assert.True(t, sig.Transition())
		assert.Equal(t, "hydraulic filter for servo valve at 3000 psi", sig.RefinedQuery)
		assert.Equal(t, "hydraulic", sig.ApplicationDomain)
		assert.Equal(t, map[string]any{"beta_ratio": 200.0, "component": "servo valve"}, sig.Parameters)
	})

	t.Run("ready false", func(t *testing.T) {
		sig := ParseSignal("<consultation_signal><ready>false</ready></consultation_signal>")
		assert.Equal(t, SignalPresent, sig.State)
		assert.False(t, sig.Transition())
	})

	t.Run("defaults and raw parameters", func(t *testing.T) {
		sig := ParseSignal("<consultation_signal><ready>TRUE</ready><refined_query>q</refined_query>" +
			"<parameters>{not json</parameters></consultation_signal>")
		assert.True(t, sig.Transition())
		assert.Equal(t, DefaultApplicationDomain, sig.ApplicationDomain)
		assert.Equal(t, map[string]any{"raw": "{not json"}, sig.Parameters)
	})

	t.Run("truncated", func(t *testing.T) {
		sig := ParseSignal("Which fluid do you use?\n<consultation_signal><ready>tr")
		assert.Equal(t, SignalMalformed, sig.State)
		assert.False(t, sig.Transition())
	})

	t.Run("missing ready", func(t *testing.T) {
		sig := ParseSignal("<consultation_signal><refined_query>q</refined_query></consultation_signal>")
		assert.Equal(t, SignalMalformed, sig.State)
	})

	t.Run("cut off inside the opening tag", func(t *testing.T) {
		assert.Equal(t, SignalMalformed, ParseSignal("Tell me the flow rate. <consultation_sig").State)
		assert.Equal(t, SignalMalformed, ParseSignal("Tell me the flow rate. <c").State)
		assert.Equal(t, SignalAbsent, ParseSignal("Is the drop under 3 <").State)
	})

	t.Run("orphan tag", func(t *testing.T) {
		assert.Equal(t, SignalMalformed, ParseSignal("ok</ready>").State)
	})

	t.Run("absent", func(t *testing.T) {
		sig := ParseSignal("What pressure does the system run at?")
		assert.Equal(t, SignalAbsent, sig.State)
		assert.Equal(t, "absent", sig.State.String())
	})
}

func TestStripSignal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"complete block", "Great.\n" + readySignal, "Great."},
		{"truncated block", "Which fluid?\n<consultation_signal><ready>tr", "Which fluid?"},
		{"cut inside the opening tag", "Which fluid?\n<consultation_sig", "Which fluid?"},
		{"orphan fragments", "Noted </refined_query> thanks <ready>", "Noted  thanks"},
		{"nothing to strip", "  Plain question?  ", "Plain question?"},
		{"comparison kept", "Is 3 < 5 psi drop acceptable?", "Is 3 < 5 psi drop acceptable?"},
		{"unclosed stray tag", "See <parameters for the list.\nUse a 10 µm element.", "See \nUse a 10 µm element."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripSignal(tt.in))
		})
	}
}

func TestSignalGuard(t *testing.T) {
	t.Run("holds back the signal across fragments", func(t *testing.T) {
		var out []string
		g := newSignalGuard(func(s string) error { out = append(out, s); return nil })
		for _, d := range []string{"Hello ", "there <consul", "tation_signal><ready>true", "</ready></consultation_signal>"} {
			require.NoError(t, g.Write(d))
		}
		require.NoError(t, g.Flush())
		assert.Equal(t, "Hello there ", strings.Join(out, ""))
		assert.Contains(t, g.Text(), "<ready>true</ready>")
	})

	t.Run("releases markup that is not a signal", func(t *testing.T) {
		var out []string
		g := newSignalGuard(func(s string) error { out = append(out, s); return nil })
		require.NoError(t, g.Write("flow is <"))
		require.NoError(t, g.Write("c"))
		require.NoError(t, g.Write("o 5 gpm"))
		require.NoError(t, g.Flush())
		assert.Equal(t, "flow is <co 5 gpm", strings.Join(out, ""))
	})

	t.Run("drops a tag cut off at the end of the stream", func(t *testing.T) {
		var out []string
		g := newSignalGuard(func(s string) error { out = append(out, s); return nil })
		require.NoError(t, g.Write("Tell me the flow rate. <consultation_sig"))
		require.NoError(t, g.Flush())
		streamed := strings.Join(out, "")
		assert.Equal(t, "Tell me the flow rate. ", streamed)
		assert.Equal(t, StripSignal(g.Text()), strings.TrimSpace(streamed))
		assert.Equal(t, SignalMalformed, ParseSignal(g.Text()).State)
	})
}

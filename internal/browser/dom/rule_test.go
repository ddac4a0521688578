package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeElement carries just enough state for rule matching.
type fakeElement struct {
	Element
	attrs   map[string]string
	text    string
	classes []string
}

func (f fakeElement) Attr(name string) string { return f.attrs[name] }
func (f fakeElement) Text() string            { return f.text }
func (f fakeElement) HasClass(name string) bool {
	for _, c := range f.classes {
		if c == name {
			return true
		}
	}
	return false
}

func TestRuleMatcher(t *testing.T) {
	rule := ClickRule{
		Container:      "button",
		IdentifierAttr: "data-uia",
		Identifiers:    []string{"control-next", "next-episode-seamless-button"},
		LabelPattern:   `next episode`,
		ClassNames:     []string{"button-nfplayerNextEpisode"},
	}
	m, err := rule.Compile()
	require.NoError(t, err)

	tests := []struct {
		name string
		el   Element
		want bool
	}{
		{"nil", nil, false},
		{"identifier", fakeElement{attrs: map[string]string{"data-uia": "control-next"}}, true},
		{"aria label, any case", fakeElement{attrs: map[string]string{"aria-label": "Next Episode"}}, true},
		{"visible text", fakeElement{text: "  Next episode  "}, true},
		{"legacy class", fakeElement{classes: []string{"x", "button-nfplayerNextEpisode"}}, true},
		{"unrelated", fakeElement{attrs: map[string]string{"data-uia": "control-play"}, text: "Play"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.el))
		})
	}
}

func TestRuleCompileRejectsBadPattern(t *testing.T) {
	_, err := ClickRule{LabelPattern: "("}.Compile()
	assert.Error(t, err)
}

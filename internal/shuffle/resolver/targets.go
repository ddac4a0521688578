package resolver

import (
	"context"
	"regexp"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

// SeasonMenuTriggerSelectors is the ordered cascade for the season dropdown.
var SeasonMenuTriggerSelectors = []string{
	`button[data-uia="selector-seasons"]`,
	`button[data-uia="dropdown-toggle"]`,
	`button[aria-label="dropdown-menu-trigger-button"]`,
	`button[aria-haspopup="true"][data-uia="dropdown-toggle"]`,
	`[data-uia="episode-selector"] button[data-uia="dropdown-toggle"]`,
	`.episodeSelector-dropdown button`,
	`.episodeSelector button[aria-haspopup="true"]`,
	`.episodeSelector button`,
}

// SeasonOptionSelectors are the structural locations season entries render in.
// All of them are gathered in one pass.
var SeasonOptionSelectors = []string{
	`li[role="menuitemradio"]`,
	`li[role="menuitem"]`,
	`[data-uia*="season"] li`,
	`.dropdown-menu li`,
	`[data-uia="dropdown-menu"] li`,
	`[data-uia="dropdown-menu-item"]`,
}

// EpisodeRootSelectors locate the episode list container, first present wins.
var EpisodeRootSelectors = []string{
	`[data-uia="episode-selector"] .episodeSelector-container`,
	`[data-uia="episode-selector"]`,
	`.episodeSelector-container`,
	`.episodeSelector`,
}

// EpisodeCardSelectors describe episode cards exposing a button role.
var EpisodeCardSelectors = []string{
	`div[data-uia="titleCard--container"][role="button"]`,
	`div.titleCardList--container.episode-item[role="button"]`,
	`.episode-item[role="button"]`,
}

// EpisodeLinkSelectors describe anchor-style episode links, most specific first.
var EpisodeLinkSelectors = []string{
	`a[data-uia*="episode"][href^="/watch/"]`,
	`.episode-item a[href^="/watch/"]`,
	`.episodeLockup a[href^="/watch/"]`,
	`.episode-row a[href^="/watch/"]`,
	`a[href^="/watch/"]`,
}

// SeamlessNextSelectors identify the auto-advance affordance.
var SeamlessNextSelectors = []string{
	`button[data-uia="next-episode-seamless-button"]`,
	`button[data-uia="next-episode-seamless-button-draining"]`,
}

var seasonText = regexp.MustCompile(`(?i)season\s+\d+`)

// NextControlRule qualifies the player's next episode control. Any single
// check qualifies.
var NextControlRule = dom.ClickRule{
	Container:      "button",
	IdentifierAttr: "data-uia",
	Identifiers: []string{
		"control-next",
		"next-episode-seamless-button",
		"next-episode-seamless-button-draining",
	},
	LabelPattern: `next episode`,
	ClassNames:   []string{"button-nfplayerNextEpisode"},
}

var nextControl = func() *dom.RuleMatcher {
	m, err := NextControlRule.Compile()
	if err != nil {
		panic(err)
	}
	return m
}()

// MatchNextControl reports whether el is a next episode control.
func MatchNextControl(el dom.Element) bool {
	return nextControl.Match(el)
}

// first is a strategy returning at most the first match of selector.
func first(selector string) Strategy {
	return Strategy{
		Name: selector,
		Find: func(ctx context.Context, q dom.Queryer) ([]dom.Element, error) {
			el, err := q.QueryFirst(ctx, selector)
			if err != nil || el == nil {
				return nil, err
			}
			return []dom.Element{el}, nil
		},
	}
}

func firstOfEach(selectors []string) []Strategy {
	out := make([]Strategy, len(selectors))
	for i, s := range selectors {
		out[i] = first(s)
	}
	return out
}

// SeasonMenuTrigger returns the season dropdown trigger, or nil.
func SeasonMenuTrigger(ctx context.Context, q dom.Queryer) (dom.Element, string, error) {
	m, err := FirstMatch(ctx, q, firstOfEach(SeasonMenuTriggerSelectors))
	if err != nil || !m.Found() {
		return nil, "", err
	}
	return m.Elements[0], m.Strategy, nil
}

// SeasonOptions gathers every season entry from all known locations,
// de-duplicated by node and filtered to entries reading "Season <n>".
func SeasonOptions(ctx context.Context, q dom.Queryer) ([]dom.Element, int, error) {
	var raw []dom.Element
	for _, sel := range SeasonOptionSelectors {
		els, err := q.QueryAll(ctx, sel)
		if err != nil {
			return nil, 0, err
		}
		raw = append(raw, els...)
	}
	var out []dom.Element
	for _, el := range dedupe(raw) {
		if seasonText.MatchString(trimmedText(el)) {
			out = append(out, el)
		}
	}
	return out, len(raw), nil
}

// EpisodeRoot returns the episode list container, or nil.
func EpisodeRoot(ctx context.Context, q dom.Queryer) (dom.Element, error) {
	m, err := FirstMatch(ctx, q, firstOfEach(EpisodeRootSelectors))
	if err != nil || !m.Found() {
		return nil, err
	}
	return m.Elements[0], nil
}

// EpisodeStrategies returns the episode cascade scoped to root: the card
// population as one strategy, then one strategy per link selector.
func EpisodeStrategies() []Strategy {
	strategies := []Strategy{{
		Name: "episode-cards",
		Find: func(ctx context.Context, q dom.Queryer) ([]dom.Element, error) {
			var raw []dom.Element
			for _, sel := range EpisodeCardSelectors {
				els, err := q.QueryAll(ctx, sel)
				if err != nil {
					return nil, err
				}
				raw = append(raw, els...)
			}
			var out []dom.Element
			for _, el := range dedupe(raw) {
				if label(el) != "" {
					out = append(out, el)
				}
			}
			return out, nil
		},
	}}
	for _, sel := range EpisodeLinkSelectors {
		strategies = append(strategies, Filtered(sel, func(el dom.Element) bool {
			return watchHref.MatchString(el.Attr("href")) && trimmedText(el) != ""
		}))
	}
	return strategies
}

// EpisodeCandidates returns the full winning episode population, or an empty
// match when the episode root is absent.
func EpisodeCandidates(ctx context.Context, q dom.Queryer) (Match, error) {
	root, err := EpisodeRoot(ctx, q)
	if err != nil || root == nil {
		return Match{}, err
	}
	return FirstMatch(ctx, root, EpisodeStrategies())
}

// SeamlessNext returns the auto-advance affordance, or nil.
func SeamlessNext(ctx context.Context, q dom.Queryer) (dom.Element, error) {
	m, err := FirstMatch(ctx, q, firstOfEach(SeamlessNextSelectors))
	if err != nil || !m.Found() {
		return nil, err
	}
	return m.Elements[0], nil
}

package resolver

import (
	"context"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

// TargetReport describes how one logical target resolved.
type TargetReport struct {
	Target   string   `json:"target" yaml:"target"`
	Strategy string   `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Count    int      `json:"count" yaml:"count"`
	Samples  []string `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// Report is a diagnostic snapshot of every target on a document.
type Report struct {
	Targets []TargetReport `json:"targets" yaml:"targets"`
}

const maxSamples = 3

func samples(els []dom.Element) []string {
	var out []string
	for i, el := range els {
		if i == maxSamples {
			break
		}
		out = append(out, Label(el))
	}
	return out
}

// Inspect resolves every target without interacting with the page.
func Inspect(ctx context.Context, q dom.Queryer) (Report, error) {
	var r Report

	trigger, strategy, err := SeasonMenuTrigger(ctx, q)
	if err != nil {
		return r, err
	}
	tr := TargetReport{Target: "season-menu-trigger", Strategy: strategy}
	if trigger != nil {
		tr.Count = 1
		tr.Samples = samples([]dom.Element{trigger})
	}
	r.Targets = append(r.Targets, tr)

	seasons, _, err := SeasonOptions(ctx, q)
	if err != nil {
		return r, err
	}
	r.Targets = append(r.Targets, TargetReport{
		Target:  "season-option",
		Count:   len(seasons),
		Samples: samples(seasons),
	})

	episodes, err := EpisodeCandidates(ctx, q)
	if err != nil {
		return r, err
	}
	r.Targets = append(r.Targets, TargetReport{
		Target:   "episode-option",
		Strategy: episodes.Strategy,
		Count:    len(episodes.Elements),
		Samples:  samples(episodes.Elements),
	})

	buttons, err := q.QueryAll(ctx, NextControlRule.Container)
	if err != nil {
		return r, err
	}
	var next []dom.Element
	for _, b := range buttons {
		if MatchNextControl(b) {
			next = append(next, b)
		}
	}
	r.Targets = append(r.Targets, TargetReport{
		Target:  "next-episode-control",
		Count:   len(next),
		Samples: samples(next),
	})
	return r, nil
}

package cdp

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// bindingName is the page-side function the helper script reports through.
const bindingName = "__netflixShuffleEmit"

// RefAttr is the attribute the helper script stamps on every node it hands
// out, so later calls can find the node again.
const RefAttr = "data-netflix-shuffle-ref"

// snapshot is the serialized form of a node as captured by the helper.
type snapshot struct {
	Key   string            `json:"key"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs"`
	Text  string            `json:"text"`
}

// event is a payload delivered through the binding.
type event struct {
	Kind       string    `json:"kind"`
	Source     string    `json:"source,omitempty"`
	Target     *snapshot `json:"target,omitempty"`
	Suppressed bool      `json:"suppressed,omitempty"`
	URL        string    `json:"url,omitempty"`
}

// queryResult is the helper's answer to query and closest calls. Missing
// reports that the scope node is gone.
type queryResult struct {
	Missing  bool       `json:"missing"`
	Elements []snapshot `json:"elements"`
}

type pageInfo struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

// decodeEvent parses a binding payload into a signal. Elements in the
// signal are bound to d.
func decodeEvent(d *Document, payload string) (dom.Signal, error) {
	var ev event
	if err := json.UnmarshalFromString(payload, &ev); err != nil {
		return dom.Signal{}, fmt.Errorf("malformed page event: %w", err)
	}
	sig := dom.Signal{Kind: dom.SignalKind(ev.Kind), Source: ev.Source, Suppressed: ev.Suppressed, URL: ev.URL}
	switch sig.Kind {
	case dom.SignalReady, dom.SignalMutation:
	case dom.SignalClick:
		if ev.Target != nil && ev.Target.Key != "" {
			sig.Target = newElement(d, *ev.Target)
		}
	default:
		return dom.Signal{}, fmt.Errorf("unknown page event kind %q", ev.Kind)
	}
	return sig, nil
}

// callExpr renders a helper invocation whose result is returned as a JSON
// string. A missing helper yields the missingHelper sentinel.
func callExpr(method string, args ...any) (string, error) {
	rendered := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d of %s: %w", i, method, err)
		}
		rendered[i] = string(b)
	}
	return fmt.Sprintf(
		`(function(){var ns=window.__netflixShuffle;if(!ns){return %q;}return JSON.stringify(ns.%s(%s));})()`,
		missingHelper, method, strings.Join(rendered, ","),
	), nil
}

const missingHelper = "__netflixShuffleMissing"

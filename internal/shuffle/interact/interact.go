// Package interact activates page controls with synthetic input so the host
// page's own handlers run.
package interact

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/browser/dom"
	"github.com/xkilldash9x/netflix-shuffle/internal/shuffle/reference"
)

// InteractiveSelector matches elements that respond to activation.
const InteractiveSelector = "a,button,[role='button']"

// ActivationKey is dispatched for controls that only honour keyboard activation.
const ActivationKey = "Enter"

// Role is the exposed role of a resolved target.
type Role int

const (
	RoleOther Role = iota
	RoleLink
	RoleButton
	// RoleGenericButton is a non-native element exposing role="button".
	RoleGenericButton
)

func (r Role) String() string {
	switch r {
	case RoleLink:
		return "link"
	case RoleButton:
		return "button"
	case RoleGenericButton:
		return "generic-button"
	default:
		return "other"
	}
}

// RoleOf classifies an element.
func RoleOf(el dom.Element) Role {
	switch el.Tag() {
	case "a":
		return RoleLink
	case "button":
		return RoleButton
	}
	if strings.EqualFold(el.Attr("role"), "button") {
		return RoleGenericButton
	}
	return RoleOther
}

// Policy describes how a role is activated.
type Policy struct {
	Click bool
	// KeyFallback also dispatches the activation key pair, unless the page is
	// already on a watch route before the click.
	KeyFallback bool
}

// DefaultPolicies maps roles to activation policies.
var DefaultPolicies = map[Role]Policy{
	RoleLink:          {Click: true},
	RoleButton:        {Click: true},
	RoleGenericButton: {Click: true, KeyFallback: true},
	RoleOther:         {Click: true},
}

// Simulator dispatches synthetic activation events.
type Simulator struct {
	logger   *zap.Logger
	policies map[Role]Policy
}

// New creates a Simulator with DefaultPolicies.
func New(logger *zap.Logger) *Simulator {
	return &Simulator{logger: logger.Named("interact"), policies: DefaultPolicies}
}

// Target resolves the element that should receive activation: the closest
// interactive ancestor (inclusive), else the first interactive descendant,
// else el itself.
func Target(ctx context.Context, el dom.Element) (dom.Element, error) {
	if t, err := el.Closest(ctx, InteractiveSelector); err != nil || t != nil {
		return t, err
	}
	if t, err := el.QueryFirst(ctx, InteractiveSelector); err != nil || t != nil {
		return t, err
	}
	return el, nil
}

// Activate clicks the resolved target of el and applies the role policy.
// A missing element or a failed dispatch is reported as false, never as an
// error; both are expected while the page is still rendering.
func (s *Simulator) Activate(ctx context.Context, doc dom.Document, el dom.Element, label string) bool {
	if el == nil {
		s.logger.Debug("Activation skipped, no element.", zap.String("label", label))
		return false
	}
	target, err := Target(ctx, el)
	if err != nil {
		s.logger.Debug("Activation target unresolved.", zap.String("label", label), zap.Error(err))
		return false
	}

	before := ""
	if loc, err := doc.Location(ctx); err == nil {
		before = loc.String()
	}

	role := RoleOf(target)
	policy, ok := s.policies[role]
	if !ok {
		policy = s.policies[RoleOther]
	}

	if policy.Click {
		if err := target.DispatchClick(ctx); err != nil {
			s.logger.Debug("Click dispatch failed.", zap.String("label", label), zap.Error(err))
			return false
		}
	}
	keyed := false
	if policy.KeyFallback && !reference.IsWatchRoute(before) {
		if err := target.DispatchKey(ctx, ActivationKey); err != nil {
			s.logger.Debug("Key dispatch failed.", zap.String("label", label), zap.Error(err))
		} else {
			keyed = true
		}
	}

	after := before
	if loc, err := doc.Location(ctx); err == nil {
		after = loc.String()
	}
	s.logger.Info("Activated element.",
		zap.String("label", label),
		zap.String("tag", target.Tag()),
		zap.Stringer("role", role),
		zap.String("data_uia", target.Attr("data-uia")),
		zap.String("aria_label", target.Attr("aria-label")),
		zap.Bool("key_fallback", keyed),
		zap.Bool("location_changed", before != after),
	)
	return true
}

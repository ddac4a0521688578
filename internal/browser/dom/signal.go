package dom

// SignalKind classifies a document signal.
type SignalKind string

const (
	// SignalReady is emitted once per loaded document.
	SignalReady SignalKind = "ready"
	// SignalClick is emitted by the delegated and direct click listeners.
	SignalClick SignalKind = "click"
	// SignalMutation is emitted by the structural mutation observer.
	SignalMutation SignalKind = "mutation"
)

// Signal is an asynchronous notification from the page.
type Signal struct {
	Kind SignalKind
	// Source names the listener that produced a click ("delegated-click",
	// "direct-button").
	Source string
	// Target is the qualifying control for click signals. May be nil when
	// the page no longer holds the node.
	Target Element
	// Suppressed reports whether the page prevented the default action and
	// stopped propagation.
	Suppressed bool
	// URL is the document URL for ready signals.
	URL string
}

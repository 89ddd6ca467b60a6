package xdpgeneric

import "github.com/xdpgeneric/xdpgeneric/internal/classify"

// ClassifyAction re-exports internal/classify's Action for use in the
// public Metrics API.
type ClassifyAction = classify.Action

const (
	ActionPass     = classify.ActionPass
	ActionDrop     = classify.ActionDrop
	ActionRedirect = classify.ActionRedirect
	ActionL2Fwd    = classify.ActionL2Fwd
	ActionEbpf     = classify.ActionEbpf
)

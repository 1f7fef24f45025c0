// Package domain contains the core types shared across the orchestration backend.
package domain

import "fmt"

// Capability tags an agent by the role it plays in a session.
type Capability string

const (
	CapabilitySupervise  Capability = "supervise"
	CapabilityAnalysis   Capability = "analyze_data"
	CapabilityExtraction Capability = "data_treat"
	CapabilityReporting  Capability = "report_gen"
	CapabilityValidation Capability = "invoice_validation"

	// CapabilityDefault is used by helper agents that live outside a bundle,
	// such as the output corrector.
	CapabilityDefault Capability = "default"
)

// BuildOrder is the order in which a bundle is constructed. The supervisor
// comes last so it can hold references to every other agent.
var BuildOrder = []Capability{
	CapabilityAnalysis,
	CapabilityExtraction,
	CapabilityReporting,
	CapabilityValidation,
	CapabilitySupervise,
}

// Capabilities lists every task tag exposed through the agent info endpoint.
var Capabilities = []Capability{
	CapabilitySupervise,
	CapabilityAnalysis,
	CapabilityExtraction,
	CapabilityReporting,
	CapabilityValidation,
	CapabilityDefault,
}

// ParseCapability validates a task tag received from a client.
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", NewError(KindInvalidInput, fmt.Sprintf("Unknown agent task: %q.", s))
}

// InBundle reports whether agents with this capability are part of a session bundle.
func (c Capability) InBundle() bool {
	for _, b := range BuildOrder {
		if b == c {
			return true
		}
	}
	return false
}

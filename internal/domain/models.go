package domain

import "sort"

// Provider names an LLM vendor a session can hold a credential for.
type Provider string

const (
	ProviderGroq      Provider = "groq"
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
)

// ProviderPreference is the order in which credentials are tried when a
// session holds keys for more than one provider.
var ProviderPreference = []Provider{ProviderGroq, ProviderGoogle, ProviderAnthropic}

// ParseProvider validates a provider name received from a client.
func ParseProvider(s string) (Provider, bool) {
	for _, p := range ProviderPreference {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// ModelDescriptor identifies the model backing an agent.
type ModelDescriptor struct {
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`
}

// Models is the catalog of recognized model names.
var Models = map[string]Provider{
	"qwen/qwen3-32b":          ProviderGroq,
	"llama-3.1-8b-instant":    ProviderGroq,
	"llama-3.3-70b-versatile": ProviderGroq,
	"openai/gpt-oss-20b":      ProviderGroq,
	"openai/gpt-oss-120b":     ProviderGroq,

	"meta-llama/llama-4-maverick-17b-128e-instruct": ProviderGroq,
	"meta-llama/llama-4-scout-17b-16e-instruct":     ProviderGroq,

	"gemini-2.5-flash": ProviderGoogle,
	"gemini-2.5-pro":   ProviderGoogle,

	"claude-3-5-haiku-latest":  ProviderAnthropic,
	"claude-3-7-sonnet-latest": ProviderAnthropic,
}

// DefaultModels maps each provider to the model used per task when the
// session has not picked one explicitly.
var DefaultModels = map[Provider]map[Capability]string{
	ProviderGroq: {
		CapabilitySupervise:  "openai/gpt-oss-120b",
		CapabilityAnalysis:   "meta-llama/llama-4-maverick-17b-128e-instruct",
		CapabilityExtraction: "llama-3.1-8b-instant",
		CapabilityReporting:  "llama-3.3-70b-versatile",
		CapabilityValidation: "openai/gpt-oss-120b",
		CapabilityDefault:    "qwen/qwen3-32b",
	},
	ProviderGoogle: {
		CapabilitySupervise:  "gemini-2.5-flash",
		CapabilityAnalysis:   "gemini-2.5-pro",
		CapabilityExtraction: "gemini-2.5-flash",
		CapabilityReporting:  "gemini-2.5-flash",
		CapabilityValidation: "gemini-2.5-flash",
		CapabilityDefault:    "gemini-2.5-flash",
	},
	ProviderAnthropic: {
		CapabilitySupervise:  "claude-3-7-sonnet-latest",
		CapabilityAnalysis:   "claude-3-7-sonnet-latest",
		CapabilityExtraction: "claude-3-5-haiku-latest",
		CapabilityReporting:  "claude-3-5-haiku-latest",
		CapabilityValidation: "claude-3-7-sonnet-latest",
		CapabilityDefault:    "claude-3-5-haiku-latest",
	},
}

// LookupModel resolves a model name against the catalog.
func LookupModel(name string) (ModelDescriptor, bool) {
	p, ok := Models[name]
	if !ok {
		return ModelDescriptor{}, false
	}
	return ModelDescriptor{Name: name, Provider: p}, true
}

// DefaultModel returns the default model of a provider for a task.
func DefaultModel(p Provider, c Capability) ModelDescriptor {
	name, ok := DefaultModels[p][c]
	if !ok {
		name = DefaultModels[p][CapabilityDefault]
	}
	return ModelDescriptor{Name: name, Provider: p}
}

// ModelsByProvider groups the catalog by provider with names sorted.
func ModelsByProvider() map[Provider][]string {
	out := make(map[Provider][]string, len(ProviderPreference))
	for name, p := range Models {
		out[p] = append(out[p], name)
	}
	for p := range out {
		sort.Strings(out[p])
	}
	return out
}

// SPDX-License-Identifier: Apache-2.0
// Package core holds the shared data model of the pistis reliability layer:
// negotiated capabilities, the wire envelope, and the request/result types
// exchanged between the session wrapper and its transport.
package core

import "sort"

// ProtocolVersion is the reliability protocol revision carried on every
// envelope and negotiation offer.
const ProtocolVersion = "1"

// MetaKey names the metadata block this layer attaches to requests and
// expects on responses.
const MetaKey = "pistis.dev/reliability"

// Feature names an optional reliability capability.
type Feature string

const (
	// FeatureAck enables explicit per-call acknowledgment.
	FeatureAck Feature = "ack"

	// FeatureRetry enables bounded automatic retry.
	FeatureRetry Feature = "retry"

	// FeatureIdempotency enables duplicate suppression by idempotency key.
	FeatureIdempotency Feature = "idempotency"
)

// AllFeatures returns every feature this layer implements.
func AllFeatures() []Feature {
	return []Feature{FeatureAck, FeatureRetry, FeatureIdempotency}
}

// Capabilities is a closed, versioned set of named reliability features.
// It is built once per session during negotiation and never recomputed.
type Capabilities struct {
	ProtocolVersion string
	Features        map[Feature]bool
}

// NewCapabilities builds a capability set for the given features at the
// current protocol version.
func NewCapabilities(features ...Feature) Capabilities {
	set := make(map[Feature]bool, len(features))
	for _, f := range features {
		set[f] = true
	}
	return Capabilities{ProtocolVersion: ProtocolVersion, Features: set}
}

// Has reports whether f is in the set.
func (c Capabilities) Has(f Feature) bool {
	return c.Features[f]
}

// Empty reports whether no feature is enabled.
func (c Capabilities) Empty() bool {
	for _, on := range c.Features {
		if on {
			return false
		}
	}
	return true
}

// Intersect returns the features present in both sets. The protocol
// version is taken from c.
func (c Capabilities) Intersect(o Capabilities) Capabilities {
	out := Capabilities{ProtocolVersion: c.ProtocolVersion, Features: make(map[Feature]bool)}
	for f, on := range c.Features {
		if on && o.Features[f] {
			out.Features[f] = true
		}
	}
	return out
}

// List returns the enabled feature names in stable order.
func (c Capabilities) List() []Feature {
	out := make([]Feature, 0, len(c.Features))
	for f, on := range c.Features {
		if on {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseFeatures maps wire-level feature names onto the closed Feature set,
// silently dropping unknown names.
func ParseFeatures(names []string) []Feature {
	known := map[string]Feature{
		string(FeatureAck):         FeatureAck,
		string(FeatureRetry):       FeatureRetry,
		string(FeatureIdempotency): FeatureIdempotency,
	}
	var out []Feature
	for _, n := range names {
		if f, ok := known[n]; ok {
			out = append(out, f)
		}
	}
	return out
}

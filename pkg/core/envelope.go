// SPDX-License-Identifier: Apache-2.0
package core

import "time"

// Envelope is the metadata block the session attaches to each outgoing
// attempt when enhanced mode is active.
type Envelope struct {
	ProtocolVersion string    `json:"protocolVersion"`
	RequestID       string    `json:"requestId"`
	IdempotencyKey  string    `json:"idempotencyKey,omitempty"`
	ExpectAck       bool      `json:"expectAck"`
	Attempt         int       `json:"attempt"`
	TimeoutMS       int64     `json:"timeoutMs,omitempty"`
	SentAt          time.Time `json:"sentAt"`
}

// MetaFields renders the envelope for a loosely-typed metadata carrier.
func (e *Envelope) MetaFields() map[string]any {
	fields := map[string]any{
		"protocolVersion": e.ProtocolVersion,
		"requestId":       e.RequestID,
		"expectAck":       e.ExpectAck,
		"attempt":         e.Attempt,
		"sentAt":          e.SentAt.UTC().Format(time.RFC3339Nano),
	}
	if e.IdempotencyKey != "" {
		fields["idempotencyKey"] = e.IdempotencyKey
	}
	if e.TimeoutMS > 0 {
		fields["timeoutMs"] = e.TimeoutMS
	}
	return fields
}

// AckBlock is the reliability block a participating peer returns.
// Unknown keys in the block are ignored.
type AckBlock struct {
	Ack       *bool
	Processed bool
	RequestID string
}

// ParseAckBlock decodes a peer's reliability block from loosely-typed
// metadata. A nil map, a missing block, or a block without an "ack" field
// yields an AckBlock with Ack == nil, which the session treats as a plain,
// non-enhanced response.
func ParseAckBlock(meta map[string]any) AckBlock {
	var out AckBlock
	if meta == nil {
		return out
	}
	block, ok := meta[MetaKey].(map[string]any)
	if !ok {
		return out
	}
	if v, ok := block["ack"].(bool); ok {
		ack := v
		out.Ack = &ack
	}
	if v, ok := block["processed"].(bool); ok {
		out.Processed = v
	}
	if v, ok := block["requestId"].(string); ok {
		out.RequestID = v
	}
	return out
}

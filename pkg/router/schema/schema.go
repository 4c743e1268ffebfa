// Package schema generates JSON Schema documents for the control
// envelope catalogue (spec §4.5.2), so portal/agent client
// implementations can validate messages against an authoritative shape
// without hand-maintaining a second copy of the payload structs.
package schema

import (
	"github.com/invopop/jsonschema"

	"github.com/onlitec/remotebroker/internal/protocol"
)

// reflector mirrors the teacher's config-schema generation settings:
// additional properties are rejected and definitions are inlined rather
// than $ref'd, so each payload schema stands alone.
func reflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
}

// Envelope returns the schema of the generic envelope wrapper, with
// Payload left untyped (it's a tagged union keyed by type).
func Envelope() *jsonschema.Schema {
	return reflect(&protocol.Envelope{}, "Envelope", "Generic control-plane envelope")
}

// payloadSchemas maps every EnvelopeType with a typed payload to the Go
// type generating its schema. Types with no payload body (ping, pong,
// heartbeat, session_terminate, ...) are intentionally absent.
var payloadSchemas = map[protocol.EnvelopeType]any{
	protocol.TypeFileTransferRequest:    &protocol.FileTransferRequestPayload{},
	protocol.TypeFileTransferResponse:   &protocol.TransferApprovalPayload{},
	protocol.TypeTransferApproval:       &protocol.TransferApprovalPayload{},
	protocol.TypeTransferControl:        &protocol.TransferControlPayload{},
	protocol.TypeProgressResponse:       &protocol.ProgressPayload{},
	protocol.TypeChunkAck:               &protocol.ChunkAckPayload{},
	protocol.TypeChunkRetransmitRequest: &protocol.ChunkRetransmitPayload{},
	protocol.TypePrivilegeRequest:       &protocol.PrivilegeRequestPayload{},
	protocol.TypePrivilegeResponse:      &protocol.PrivilegeResponsePayload{},
	protocol.TypeError:                  &protocol.ErrorPayload{},
}

// Payload returns the schema for typ's payload, or nil if typ carries
// no typed payload (or isn't in the catalogue).
func Payload(typ protocol.EnvelopeType) *jsonschema.Schema {
	v, ok := payloadSchemas[typ]
	if !ok {
		return nil
	}
	return reflect(v, string(typ), "Payload of the "+string(typ)+" envelope")
}

// All returns every payload schema in the catalogue, keyed by envelope
// type, for bulk export (e.g. a single combined schema file).
func All() map[protocol.EnvelopeType]*jsonschema.Schema {
	out := make(map[protocol.EnvelopeType]*jsonschema.Schema, len(payloadSchemas))
	for typ, v := range payloadSchemas {
		out[typ] = reflect(v, string(typ), "Payload of the "+string(typ)+" envelope")
	}
	return out
}

func reflect(v any, title, description string) *jsonschema.Schema {
	s := reflector().Reflect(v)
	s.Version = "https://json-schema.org/draft/2020-12/schema"
	s.Title = title
	s.Description = description
	return s
}

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/internal/protocol"
)

func TestEnvelope_SetsTitle(t *testing.T) {
	s := Envelope()
	require.NotNil(t, s)
	assert.Equal(t, "Envelope", s.Title)
}

func TestPayload_KnownType(t *testing.T) {
	s := Payload(protocol.TypeFileTransferRequest)
	require.NotNil(t, s)
	assert.Equal(t, string(protocol.TypeFileTransferRequest), s.Title)
}

func TestPayload_UnknownTypeReturnsNil(t *testing.T) {
	assert.Nil(t, Payload(protocol.TypePing))
}

func TestAll_CoversEveryMappedType(t *testing.T) {
	all := All()
	assert.Len(t, all, len(payloadSchemas))
	for typ := range payloadSchemas {
		assert.Contains(t, all, typ)
	}
}

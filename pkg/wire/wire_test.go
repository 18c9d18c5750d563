/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wes-carlson/fluidcore/pkg/pendingstate"
	"github.com/wes-carlson/fluidcore/pkg/wire"
)

func sampleState() *pendingstate.SerializedPendingState {
	return &pendingstate.SerializedPendingState{
		ClientID: "client-a",
		Entries: []pendingstate.SerializedEntry{
			{Type: pendingstate.SerializedFlushMode, FlushMode: pendingstate.FlushModeManual},
			{
				Type:                    pendingstate.SerializedMessage,
				MessageType:             "op",
				ClientSequenceNumber:    1,
				ReferenceSequenceNumber: 5,
				Content:                 []byte(`{"k":"v"}`),
				OpMetadata:              map[string]interface{}{"tag": "t1"},
			},
			{Type: pendingstate.SerializedFlushMarker},
		},
	}
}

func TestEncodeDecodeRoundTripUncompressed(t *testing.T) {
	blob, err := wire.Encode(sampleState(), false)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	decoded, err := wire.Decode(blob)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, "client-a", decoded.ClientID)
	require.Len(t, decoded.Entries, 3)
	assert.Equal(t, pendingstate.SerializedFlushMode, decoded.Entries[0].Type)
	assert.Equal(t, pendingstate.FlushModeManual, decoded.Entries[0].FlushMode)
	assert.Equal(t, pendingstate.SerializedMessage, decoded.Entries[1].Type)
	assert.Equal(t, uint64(1), decoded.Entries[1].ClientSequenceNumber)
	assert.Equal(t, pendingstate.SerializedFlushMarker, decoded.Entries[2].Type)
}

func TestEncodeDecodeRoundTripCompressed(t *testing.T) {
	blob, err := wire.Encode(sampleState(), true)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	// gzip magic header.
	require.True(t, len(blob) >= 2 && blob[0] == 0x1f && blob[1] == 0x8b)

	decoded, err := wire.Decode(blob)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, "client-a", decoded.ClientID)
	require.Len(t, decoded.Entries, 3)
}

func TestEncodeNilStateProducesNilBlob(t *testing.T) {
	blob, err := wire.Encode(nil, true)
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestDecodeEmptyBlobProducesNilState(t *testing.T) {
	decoded, err := wire.Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

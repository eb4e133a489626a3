package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeStateTransitions(t *testing.T) {
	s := NewBridgeState()
	snap := s.Snapshot()
	assert.Equal(t, StatusInitializing, snap.Status)
	assert.Nil(t, snap.QR)
	assert.Nil(t, snap.Number)

	s.SetQR("first")
	s.SetQR("second")
	snap = s.Snapshot()
	assert.Equal(t, StatusAwaitingScan, snap.Status)
	require.NotNil(t, snap.QR)
	assert.Equal(t, "second", *snap.QR)

	s.SetConnected("5551234567")
	snap = s.Snapshot()
	assert.Equal(t, StatusConnected, snap.Status)
	assert.Nil(t, snap.QR)
	require.NotNil(t, snap.Number)
	assert.Equal(t, "5551234567", *snap.Number)

	s.SetDisconnected(StatusSessionClosed)
	snap = s.Snapshot()
	assert.Equal(t, StatusSessionClosed, snap.Status)
	assert.Nil(t, snap.QR)
	assert.Nil(t, snap.Number)
}

func TestQRRendering(t *testing.T) {
	url, err := qrDataURL("QR123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	again, err := qrDataURL("QR123")
	require.NoError(t, err)
	assert.Equal(t, url, again)

	var sb strings.Builder
	printQR(&sb, "QR123")
	assert.NotEmpty(t, sb.String())
	printQR(nil, "QR123")
}

package smtpsender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXOAuth2AuthStartBuildsBearerResponse(t *testing.T) {
	a := &xoauth2Auth{username: "alice@example.com", token: "tok-123"}
	mech, resp, err := a.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=alice@example.com\x01auth=Bearer tok-123\x01\x01", string(resp))
}

func TestXOAuth2AuthNextStopsOnServerContinuation(t *testing.T) {
	a := &xoauth2Auth{username: "alice@example.com", token: "tok-123"}

	resp, err := a.Next([]byte(`{"status":"400"}`), true)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, resp)

	resp, err = a.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jamiequint/groundeffect/internal/models"
)

type stubRefresher struct {
	token *oauth2.Token
	err   error
}

type stubSource struct {
	token *oauth2.Token
	err   error
}

func (s stubSource) Token() (*oauth2.Token, error) { return s.token, s.err }

func (r stubRefresher) TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource {
	return stubSource{token: r.token, err: r.err}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	v := New(dir, stubRefresher{})

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, v.Save("alice@example.com", tok))

	v2 := New(dir, stubRefresher{})
	got, err := v2.Load("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
}

func TestLoadMissingAccountIsNotFound(t *testing.T) {
	v := New(t.TempDir(), stubRefresher{})
	_, err := v.Load("nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, models.KindNotFound, models.KindOf(err))
}

func TestRefreshIfNeededSkipsWhenStillFresh(t *testing.T) {
	dir := t.TempDir()
	// No refresh token configured: if RefreshIfNeeded called the refresher
	// anyway, TokenSource().Token() would return a nil-token panic or error.
	v := New(dir, stubRefresher{})
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, v.Save("alice@example.com", tok))

	got, err := v.RefreshIfNeeded(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
}

func TestRefreshIfNeededRefreshesNearExpiry(t *testing.T) {
	dir := t.TempDir()
	fresh := &oauth2.Token{AccessToken: "new", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	v := New(dir, stubRefresher{token: fresh})
	stale := &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(time.Minute)}
	require.NoError(t, v.Save("alice@example.com", stale))

	got, err := v.RefreshIfNeeded(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
}

func TestRefreshIfNeededFailureIsAuthKind(t *testing.T) {
	dir := t.TempDir()
	v := New(dir, stubRefresher{err: &testAuthError{}})
	stale := &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)}
	require.NoError(t, v.Save("alice@example.com", stale))

	_, err := v.RefreshIfNeeded(context.Background(), "alice@example.com")
	require.Error(t, err)
	assert.Equal(t, models.KindAuth, models.KindOf(err))
}

type testAuthError struct{}

func (e *testAuthError) Error() string { return "invalid_grant" }

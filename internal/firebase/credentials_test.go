package firebase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServiceAccount_InlineWinsOverFile(t *testing.T) {
	inline := string(testServiceAccountJSON(t, ""))
	sa, err := LoadServiceAccount(inline, "/does/not/exist.json")
	require.NoError(t, err)
	assert.Equal(t, "parley-test", sa.ProjectID)
	assert.Equal(t, defaultTokenURI, sa.TokenURI)
}

func TestLoadServiceAccount_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serviceAccountKey.json")
	require.NoError(t, os.WriteFile(path, testServiceAccountJSON(t, "https://token.example"), 0o600))

	sa, err := LoadServiceAccount("", path)
	require.NoError(t, err)
	assert.Equal(t, "https://token.example", sa.TokenURI)
}

func TestLoadServiceAccount_Missing(t *testing.T) {
	_, err := LoadServiceAccount("", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadServiceAccount("", "")
	assert.Error(t, err)

	_, err = ParseServiceAccount([]byte(`{"client_email":"x"}`))
	assert.Error(t, err)
}

func TestTokenSource_ExchangesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.PostForm.Get("assertion"), claims, func(*jwt.Token) (interface{}, error) {
			return &testKey.PublicKey, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "backend@parley-test.iam.gserviceaccount.com", claims["iss"])
		assert.Contains(t, claims["scope"], "firebase.database")

		fmt.Fprintf(w, `{"access_token":"access-%d","expires_in":3600}`, hits.Load())
	}))
	defer srv.Close()

	sa, err := ParseServiceAccount(testServiceAccountJSON(t, srv.URL))
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := NewTokenSource(sa)
	ts.now = func() time.Time { return now }

	tok, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)

	now = now.Add(30 * time.Minute)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok, "cached while valid")

	now = now.Add(29*time.Minute + 30*time.Second)
	tok, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok, "refreshed inside the skew window")
}

func TestTokenSource_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sa, err := ParseServiceAccount(testServiceAccountJSON(t, srv.URL))
	require.NoError(t, err)

	_, err = NewTokenSource(sa).Token(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

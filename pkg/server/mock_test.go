package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/chargeplan/pkg/controller"
	"github.com/raterudder/chargeplan/pkg/publish"
	"github.com/raterudder/chargeplan/pkg/storage/storagemock"
	"github.com/raterudder/chargeplan/pkg/types"
	"github.com/raterudder/chargeplan/pkg/utility"
)

var testNow = time.Date(2024, 1, 25, 8, 0, 0, 0, time.UTC)

// fakeGrowatt stands in for the portal session.
type fakeGrowatt struct {
	mu       sync.Mutex
	loginErr error
	setErr   error
	logins   int
	sets     int
	target   types.DeviceTarget
	decision types.ScheduleDecision
}

func (f *fakeGrowatt) login(ctx context.Context, username, password string) (controller.Pusher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f, nil
}

func (f *fakeGrowatt) SetTimes(ctx context.Context, target types.DeviceTarget, decision types.ScheduleDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.target = target
	f.decision = decision
	return f.setErr
}

func newTestServer(t *testing.T, fg *fakeGrowatt) (*Server, *storagemock.MockDatabase) {
	t.Helper()
	mockDB := &storagemock.MockDatabase{}
	mem := publish.NewMemory()
	reg := prometheus.NewRegistry()
	c, err := controller.New(mem, reg,
		controller.WithLoginFunc(fg.login),
		controller.WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return &Server{
		utilities:     utility.NewMap(),
		storage:       mockDB,
		controller:    c,
		display:       mem,
		gatherer:      reg,
		bypassAuth:    true,
		singleSite:    true,
		encryptionKey: testKey,
		serverName:    "chargeplan",
		now:           func() time.Time { return testNow },
	}, mockDB
}

// testSeries has its cheapest charge window at 4 and best load window at 15.
func testSeries() types.HourlySeries {
	series := make(types.HourlySeries, 24)
	for i := range series {
		series[i] = 0.10
	}
	series[4] = 0.01
	series[5] = 0.01
	for i := 15; i < 19; i++ {
		series[i] = 0.50
	}
	return series
}

func encryptedTestCreds(t *testing.T, creds types.Credentials) []byte {
	t.Helper()
	srv := &Server{encryptionKey: testKey}
	b, err := srv.encryptCredentials(t.Context(), creds)
	require.NoError(t, err)
	return b
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

const testOIDCKeyID = "test-key"

// setupOIDCTest serves a discovery document and JWKS for a fresh RSA key.
func setupOIDCTest(t *testing.T) (*httptest.Server, *rsa.PrivateKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                ts.URL,
			"authorization_endpoint":                ts.URL + "/auth",
			"token_endpoint":                        ts.URL + "/token",
			"jwks_uri":                              ts.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{string(jose.RS256)},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       &priv.PublicKey,
				KeyID:     testOIDCKeyID,
				Algorithm: string(jose.RS256),
				Use:       "sig",
			}},
		})
	})
	ts = httptest.NewServer(mux)
	return ts, priv
}

func generateTestToken(t *testing.T, issuer string, priv *rsa.PrivateKey, email, audience string) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: priv, KeyID: testOIDCKeyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	now := time.Now()
	payload, err := json.Marshal(map[string]any{
		"iss":            issuer,
		"aud":            audience,
		"sub":            "sub-" + email,
		"email":          email,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	jws, err := signer.Sign(payload)
	require.NoError(t, err)
	raw, err := jws.CompactSerialize()
	require.NoError(t, err)
	return raw
}

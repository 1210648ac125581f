package dgii

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughSigner skips real signing — handshake mechanics are what these
// tests exercise, signature correctness is covered in the sign package.
type passthroughSigner struct{}

func (passthroughSigner) SignFile(xml []byte, _, _, _ string) ([]byte, error) {
	return xml, nil
}

type fakeAuthority struct {
	mu           sync.Mutex
	seedHits     atomic.Int64
	submitHits   atomic.Int64
	seedDelay    time.Duration
	submitStatus []int // consumed per call; empty → 200
	trackID      string
}

func (f *fakeAuthority) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /autenticacion/api/semilla", func(w http.ResponseWriter, r *http.Request) {
		f.seedHits.Add(1)
		time.Sleep(f.seedDelay)
		_, _ = w.Write([]byte(`<SemillaModel><valor>abc</valor></SemillaModel>`))
	})
	mux.HandleFunc("POST /autenticacion/api/validarsemilla", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok-1"}`))
	})
	mux.HandleFunc("POST /recepcionfc/api/ecf", func(w http.ResponseWriter, r *http.Request) {
		f.submitHits.Add(1)
		f.mu.Lock()
		status := http.StatusOK
		if len(f.submitStatus) > 0 {
			status = f.submitStatus[0]
			f.submitStatus = f.submitStatus[1:]
		}
		f.mu.Unlock()
		if status != http.StatusOK {
			w.WriteHeader(status)
			if status == http.StatusBadRequest {
				_, _ = w.Write([]byte(`{"mensajes":["RNC del emisor no autorizado"]}`))
			}
			return
		}
		_, _ = w.Write([]byte(`{"trackId":"` + f.trackID + `"}`))
	})
	mux.HandleFunc("GET /recepcionfc/api/consultatrackid/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"trackId":"trk-9","estado":"Aceptado","mensajes":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

var testCreds = Credentials{CertPath: "/certs/tenant.p12", CertPassword: "pw"}

func TestTokenCachedUntilExpiry(t *testing.T) {
	authority := &fakeAuthority{trackID: "trk-1"}
	srv := authority.server(t)
	clock := clockwork.NewFakeClock()
	client := NewClient(srv.URL, passthroughSigner{}, clock)
	tenant := uuid.New()

	tok, err := client.Token(context.Background(), tenant, testCreds)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), authority.seedHits.Load())

	// Fresh token → no new handshake.
	_, err = client.Token(context.Background(), tenant, testCreds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), authority.seedHits.Load())

	// Past the conservative TTL (1h stated minus 5m margin) → exactly one
	// new handshake.
	clock.Advance(56 * time.Minute)
	_, err = client.Token(context.Background(), tenant, testCreds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), authority.seedHits.Load())
}

func TestTokenSingleFlight(t *testing.T) {
	authority := &fakeAuthority{seedDelay: 50 * time.Millisecond}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())
	tenant := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := client.Token(context.Background(), tenant, testCreds)
			assert.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), authority.seedHits.Load(),
		"concurrent misses for one tenant must collapse into one handshake")
}

func TestTokenPerTenantIsolation(t *testing.T) {
	authority := &fakeAuthority{}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewFakeClock())

	_, err := client.Token(context.Background(), uuid.New(), testCreds)
	require.NoError(t, err)
	_, err = client.Token(context.Background(), uuid.New(), testCreds)
	require.NoError(t, err)

	assert.Equal(t, int64(2), authority.seedHits.Load(), "tokens must not leak across tenants")
}

func TestSubmit(t *testing.T) {
	authority := &fakeAuthority{trackID: "trk-42"}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	trackID, err := client.Submit(context.Background(), uuid.New(), testCreds, []byte(`<ECF/>`))
	require.NoError(t, err)
	assert.Equal(t, "trk-42", trackID)
}

func TestSubmitRefreshesTokenOn401(t *testing.T) {
	authority := &fakeAuthority{trackID: "trk-7", submitStatus: []int{http.StatusUnauthorized}}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	trackID, err := client.Submit(context.Background(), uuid.New(), testCreds, []byte(`<ECF/>`))
	require.NoError(t, err)
	assert.Equal(t, "trk-7", trackID)
	assert.Equal(t, int64(2), authority.submitHits.Load())
	assert.Equal(t, int64(2), authority.seedHits.Load(), "401 must trigger exactly one re-handshake")
}

func TestSubmitPersistentlyUnauthorized(t *testing.T) {
	authority := &fakeAuthority{submitStatus: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	_, err := client.Submit(context.Background(), uuid.New(), testCreds, []byte(`<ECF/>`))
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestSubmitRejected(t *testing.T) {
	authority := &fakeAuthority{submitStatus: []int{http.StatusBadRequest}}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	_, err := client.Submit(context.Background(), uuid.New(), testCreds, []byte(`<ECF/>`))
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "RNC del emisor no autorizado")
}

func TestSubmitThrottledIsTransient(t *testing.T) {
	authority := &fakeAuthority{submitStatus: []int{http.StatusTooManyRequests}}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	_, err := client.Submit(context.Background(), uuid.New(), testCreds, []byte(`<ECF/>`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected, "throttling must stay retryable, not terminal")
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

func TestCheckStatus(t *testing.T) {
	authority := &fakeAuthority{}
	srv := authority.server(t)
	client := NewClient(srv.URL, passthroughSigner{}, clockwork.NewRealClock())

	ds, err := client.CheckStatus(context.Background(), uuid.New(), testCreds, "trk-9")
	require.NoError(t, err)
	assert.Equal(t, "Aceptado", ds.Estado)
	assert.Equal(t, "trk-9", ds.TrackID)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, prodBaseURL, BaseURL("production"))
	assert.Equal(t, testBaseURL, BaseURL("test"))
	assert.Equal(t, testBaseURL, BaseURL(""))
}

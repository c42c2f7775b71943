package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonglijing/iotconsole/internal/models"
)

type memStore struct {
	mu      sync.Mutex
	pair    models.TokenPair
	saves   int
	cleared bool
}

func (s *memStore) Tokens(context.Context) (models.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair, nil
}

func (s *memStore) SaveTokens(_ context.Context, pair models.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.saves++
	return nil
}

func (s *memStore) ClearTokens(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = models.TokenPair{}
	s.cleared = true
	return nil
}

func makeToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(expiresIn).Unix(),
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return tok
}

func newTestUpstream(t *testing.T, handler http.Handler) *Upstream {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:            srv.URL,
		Timeout:            2 * time.Second,
		RefreshMargin:      30 * time.Second,
		BreakerMaxFailures: 3,
		BreakerOpenTimeout: time.Minute,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestDo_BearerAndPage(t *testing.T) {
	access := makeToken(t, time.Hour)
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+access, r.Header.Get("Authorization"))
		assert.Equal(t, "/api/dispositivos/", r.URL.Path)
		assert.Equal(t, "bomba", r.URL.Query().Get("search"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   11,
			"results": []map[string]any{{"id": 7, "nombre": "bomba-1"}},
		})
	}))
	client := up.Bind(&memStore{pair: models.TokenPair{Access: access, Refresh: "r"}})

	page, err := NewResource[models.Device]("/api/dispositivos/").List(context.Background(), client, Query{Search: "bomba", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Count)
	require.Len(t, page.Results, 1)
	assert.Equal(t, int64(7), page.Results[0].ID)
}

func TestDo_BareArrayPage(t *testing.T) {
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 1}, {"id": 2}})
	}))
	client := up.Bind(&memStore{pair: models.TokenPair{Access: makeToken(t, time.Hour)}})

	page, err := NewResource[models.Sensor]("/api/sensores").List(context.Background(), client, Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
}

func TestDo_UnauthorizedClearsTokens(t *testing.T) {
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Given token not valid for any token type"})
	}))
	store := &memStore{pair: models.TokenPair{Access: makeToken(t, time.Hour), Refresh: "r"}}
	client := up.Bind(store)

	_, err := NewResource[models.Device]("/api/dispositivos/").Get(context.Background(), client, 3)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, store.cleared)
	assert.Empty(t, store.pair.Access)
	assert.Empty(t, store.pair.Refresh)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Given token not valid for any token type", apiErr.Message)
}

func TestDo_NoTokens(t *testing.T) {
	var hits int32
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	err := up.Bind(&memStore{}).Do(context.Background(), http.MethodGet, "/api/sensores/", nil, nil, nil)

	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestDo_RefreshBeforeExpiry(t *testing.T) {
	stale := makeToken(t, 10*time.Second)
	fresh := makeToken(t, time.Hour)

	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathTokenRefresh:
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh-1", body["refresh"])
			writeJSON(w, http.StatusOK, map[string]string{"access": fresh})
		default:
			assert.Equal(t, "Bearer "+fresh, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"id": 1, "username": "ana", "is_active": true})
		}
	}))
	store := &memStore{pair: models.TokenPair{Access: stale, Refresh: "refresh-1"}}

	profile, err := up.Bind(store).Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ana", profile.Username)
	assert.Equal(t, fresh, store.pair.Access)
	// 未轮换时保留原刷新令牌
	assert.Equal(t, "refresh-1", store.pair.Refresh)
}

func TestDo_RefreshFailureKeepsOldToken(t *testing.T) {
	stale := makeToken(t, 5*time.Second)
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathTokenRefresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is blacklisted"})
			return
		}
		assert.Equal(t, "Bearer "+stale, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	store := &memStore{pair: models.TokenPair{Access: stale, Refresh: "r"}}

	err := up.Bind(store).Do(context.Background(), http.MethodGet, "/api/sensores/1/", nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, store.cleared)
	assert.Zero(t, store.saves)
}

func TestDo_ConcurrentRefreshCollapses(t *testing.T) {
	stale := makeToken(t, time.Second)
	fresh := makeToken(t, time.Hour)
	release := make(chan struct{})
	var refreshes int32

	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathTokenRefresh {
			atomic.AddInt32(&refreshes, 1)
			<-release
			writeJSON(w, http.StatusOK, map[string]string{"access": fresh, "refresh": "r2"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})
	}))
	store := &memStore{pair: models.TokenPair{Access: stale, Refresh: "r1"}}
	client := up.Bind(store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Do(context.Background(), http.MethodGet, "/api/lecturas/", nil, nil, nil))
		}()
	}
	time.Sleep(150 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	assert.Equal(t, models.TokenPair{Access: fresh, Refresh: "r2"}, store.pair)
}

func TestBreaker_ServerErrorsTrip(t *testing.T) {
	var hits int32
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
	}))
	client := up.Bind(&memStore{pair: models.TokenPair{Access: makeToken(t, time.Hour)}})

	for i := 0; i < 3; i++ {
		err := client.Do(context.Background(), http.MethodGet, "/api/sensores/", nil, nil, nil)
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, "boom", apiErr.Message)
	}

	err := client.Do(context.Background(), http.MethodGet, "/api/sensores/", nil, nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, gobreaker.StateOpen, up.BreakerState())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"nombre": []string{"Este campo es requerido."}})
	}))
	client := up.Bind(&memStore{pair: models.TokenPair{Access: makeToken(t, time.Hour)}})

	for i := 0; i < 5; i++ {
		_, err := NewResource[models.Device]("/api/dispositivos/").Create(context.Background(), client, map[string]any{})
		apiErr, ok := AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, "Este campo es requerido.", apiErr.Fields["nombre"])
	}
	assert.Equal(t, gobreaker.StateClosed, up.BreakerState())
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	up := New(Options{BaseURL: base, Timeout: time.Second})
	err := up.Bind(&memStore{pair: models.TokenPair{Access: "opaque"}}).Do(context.Background(), http.MethodGet, "/api/sensores/", nil, nil, nil)

	assert.ErrorIs(t, err, ErrTransport)
	_, isAPI := AsAPIError(err)
	assert.False(t, isAPI)
}

func TestLogin(t *testing.T) {
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "correct" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": "a", "refresh": "r"})
	}))

	pair, err := up.Login(context.Background(), "ana", "correct")
	require.NoError(t, err)
	assert.Equal(t, models.TokenPair{Access: "a", Refresh: "r"}, pair)

	_, err = up.Login(context.Background(), "ana", "wrong")
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "No active account found with the given credentials", apiErr.Message)
}

func TestResource_MutationsUseExpectedVerbs(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	up := newTestUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 4, "nombre": "x"})
	}))
	client := up.Bind(&memStore{pair: models.TokenPair{Access: makeToken(t, time.Hour)}})
	res := NewResource[models.MQTTBroker]("/api/mqtt/brokers/")
	ctx := context.Background()

	_, err := res.Create(ctx, client, map[string]any{"nombre": "x"})
	require.NoError(t, err)
	_, err = res.Update(ctx, client, 4, map[string]any{"nombre": "y"})
	require.NoError(t, err)
	require.NoError(t, res.Delete(ctx, client, 4))

	assert.Equal(t, []string{
		"POST /api/mqtt/brokers/",
		"PATCH /api/mqtt/brokers/4/",
		"DELETE /api/mqtt/brokers/4/",
	}, seen)
}

func TestQueryValues(t *testing.T) {
	q := Query{Search: " temp ", Sensor: "3", PageSize: 20, Extra: map[string]string{"broker": "1", "empty": ""}}
	v := q.Values()

	assert.Equal(t, "temp", v.Get("search"))
	assert.Equal(t, "3", v.Get("sensor"))
	assert.Equal(t, "20", v.Get("page_size"))
	assert.Equal(t, "1", v.Get("broker"))
	assert.False(t, v.Has("page"))
	assert.False(t, v.Has("empty"))
	assert.False(t, v.Has("dispositivo"))
}

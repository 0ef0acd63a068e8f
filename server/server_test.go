package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"magioproxy/cache"
	"magioproxy/magio"
	"magioproxy/magio/auth"
)

// newTestServer wires a full server against a stub upstream. When
// authenticated is false the manager has no session and no way to get one.
func newTestServer(t *testing.T, upstream http.Handler, authenticated bool) *Server {
	t.Helper()

	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	store := auth.NewFileStore(t.TempDir())
	if authenticated {
		err := store.Save(auth.TokenSet{
			AccessToken:  "test-access",
			RefreshToken: "test-refresh",
			Expires:      float64(time.Now().Add(time.Hour).Unix()),
			DeviceID:     "test-device",
		}, "cz")
		assert.Nil(t, err)
	}

	c := cache.New(time.Hour)
	manager := auth.NewManager(auth.Config{
		Language: "cz",
		BaseURL:  ts.URL,
	}, store, c)

	client := magio.NewClient(magio.ClientOpts{Auth: manager, Cache: c})

	return New(Opts{
		Auth:      manager,
		Client:    client,
		Cache:     c,
		ServerURL: "http://localhost:5000",
	})
}

func doRequest(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func channelUpstream() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/home/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"categories":[{"name":"News","channels":[{"channelId":1}]}]}`))
	})
	mux.HandleFunc("/v2/television/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"items":[
			{"channel":{"channelId":1,"name":"CT 1","originalName":"CT 1","logoUrl":"","hasArchive":true}}
		]}`))
	})
	return mux
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, http.NewServeMux(), true)

	rec, body := doRequest(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, http.NewServeMux(), true)

	rec, _ := doRequest(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "magioproxy_cache_hits_total")
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, http.NewServeMux(), true)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "cz", body["language"])
	assert.Equal(t, "test-device", body["device_id"])
}

func TestChannelsEndpoint(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), true)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusOK, rec.Code)

	channels := body["channels"].([]any)
	assert.Len(t, channels, 1)
	first := channels[0].(map[string]any)
	assert.Equal(t, "CT 1", first["name"])
	assert.Equal(t, "News", first["group"])
}

func TestChannelsUnauthenticated(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), false)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestChannelByIDEndpoint(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), true)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/channels/1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CT 1", body["name"])

	rec, _ = doRequest(t, srv, http.MethodGet, "/api/channels/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, srv, http.MethodGet, "/api/channels/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelGroupsEndpoint(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), true)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/channels/groups")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"News"}, body["groups"])
}

func TestLoginEndpointFailure(t *testing.T) {
	// no credentials configured, login cannot succeed
	srv := newTestServer(t, http.NewServeMux(), false)

	rec, body := doRequest(t, srv, http.MethodPost, "/api/login")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestLogoutEndpoint(t *testing.T) {
	srv := newTestServer(t, http.NewServeMux(), true)

	rec, body := doRequest(t, srv, http.MethodPost, "/api/logout")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	_, body = doRequest(t, srv, http.MethodGet, "/api/status")
	assert.Equal(t, false, body["authenticated"])
}

func TestStreamEndpointRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/television/stream-url", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"url":"http://` + r.Host + `/edge"}`))
	})
	mux.HandleFunc("/edge", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://cdn.example.com/live.m3u8")
		w.WriteHeader(http.StatusFound)
	})
	srv := newTestServer(t, mux, true)

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/stream/1?redirect=1")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example.com/live.m3u8", rec.Header().Get("Location"))

	rec, body := doRequest(t, srv, http.MethodGet, "/api/stream/1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn.example.com/live.m3u8", body["url"])
	assert.Equal(t, true, body["is_live"])
}

func TestCatchupEndpointBadRange(t *testing.T) {
	srv := newTestServer(t, http.NewServeMux(), true)

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/catchup/1/notarange")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, srv, http.MethodGet, "/api/catchup/1/200-100")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaylistEndpoint(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), true)

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/playlist.m3u")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "mpegurl")

	out := rec.Body.String()
	assert.Contains(t, out, "#EXTM3U")
	assert.Contains(t, out, "http://localhost:5000/api/stream/1?redirect=1")
	assert.Contains(t, out, `catchup-days="7"`)
}

func TestEPGXMLEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	upstream := channelUpstream()
	mux.Handle("/home/categories", upstream)
	mux.Handle("/v2/television/channels", upstream)
	mux.HandleFunc("/v2/television/epg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"items":[
			{"channel":{"id":1},"programs":[
				{"scheduleId":100,"startTimeUTC":1748772000000,"endTimeUTC":1748775600000,
				 "program":{"title":"Evening News","programCategory":{},"programValue":{}}}
			]}
		]}`))
	})
	srv := newTestServer(t, mux, true)

	rec, _ := doRequest(t, srv, http.MethodGet, "/api/epg.xml")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<tv")
	assert.Contains(t, rec.Body.String(), "Evening News")
}

func TestDevicesEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/home/my-devices", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"thisDevice":{"id":"dev-1","name":"magioproxy"}}`))
	})
	mux.HandleFunc("/home/deleteDevice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	})
	srv := newTestServer(t, mux, true)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/devices")
	assert.Equal(t, http.StatusOK, rec.Code)
	devices := body["devices"].([]any)
	assert.Len(t, devices, 1)

	rec, body = doRequest(t, srv, http.MethodDelete, "/api/devices/dev-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
}

func TestCacheEndpoints(t *testing.T) {
	srv := newTestServer(t, channelUpstream(), true)

	// populate the cache
	rec, _ := doRequest(t, srv, http.MethodGet, "/api/channels")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := doRequest(t, srv, http.MethodGet, "/api/cache/info")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body["total_entries"].(float64) >= 1)

	rec, body = doRequest(t, srv, http.MethodPost, "/api/cache/clear?key=channels_*")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["removed"])

	rec, body = doRequest(t, srv, http.MethodPost, "/api/cache/clear")
	assert.Equal(t, http.StatusOK, rec.Code)

	_, body = doRequest(t, srv, http.MethodGet, "/api/cache/info")
	assert.Equal(t, float64(0), body["total_entries"])
}

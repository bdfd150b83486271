package db

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/courier/packages/engine"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
	"github.com/abdul-hamid-achik/courier/packages/session"
)

var api = engine.ProtectionSpace{Scheme: "https", Host: "api.example.com", Port: 443, Realm: "api"}

func openStore(t *testing.T) *CredentialStore {
	t.Helper()
	store, err := Open("sqlite://" + filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		conn    string
		wantErr bool
	}{
		{"sqlite url", "sqlite://" + filepath.Join(dir, "a.db"), false},
		{"sqlite prefix", "sqlite:" + filepath.Join(dir, "b.db"), false},
		{"plain path", filepath.Join(dir, "c.db"), false},
		{"memory", ":memory:", false},
		{"empty", "  ", true},
		{"postgres", "postgres://localhost/creds", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.conn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, store.Close())
		})
	}
}

func TestStoreDefaultCredential(t *testing.T) {
	store := openStore(t)

	cred, err := store.DefaultCredential(api)
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.Set(api, engine.NewCredential("ada", "first")))
	require.NoError(t, store.Set(api, engine.NewCredential("grace", "second")))

	cred, err = store.DefaultCredential(api)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "ada", cred.User)
	assert.Equal(t, "first", cred.Password)

	require.NoError(t, store.SetDefault(api, "grace"))
	cred, err = store.DefaultCredential(api)
	require.NoError(t, err)
	assert.Equal(t, "grace", cred.User)

	assert.ErrorIs(t, store.SetDefault(api, "nobody"), ErrNotFound)
	cred, err = store.DefaultCredential(api)
	require.NoError(t, err)
	assert.Equal(t, "grace", cred.User)
}

func TestStoreSetReplacesPassword(t *testing.T) {
	store := openStore(t)

	require.NoError(t, store.Set(api, engine.NewCredential("ada", "old")))
	require.NoError(t, store.Set(api, engine.NewCredential("ada", "new")))

	creds, err := store.Credentials(api)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "new", creds[0].Password)

	assert.Error(t, store.Set(api, nil))
	assert.Error(t, store.Set(api, engine.NewCredential("", "pw")))
}

func TestStoreRealmMatching(t *testing.T) {
	store := openStore(t)
	anyRealm := api
	anyRealm.Realm = ""

	require.NoError(t, store.Set(anyRealm, engine.NewCredential("host-wide", "pw")))
	require.NoError(t, store.Set(api, engine.NewCredential("realm", "pw")))

	tests := []struct {
		name  string
		space engine.ProtectionSpace
		want  []string
	}{
		{"realm entry first", api, []string{"realm", "host-wide"}},
		{"other realm", engine.ProtectionSpace{Scheme: "https", Host: "api.example.com", Port: 443, Realm: "admin"}, []string{"host-wide"}},
		{"other port", engine.ProtectionSpace{Scheme: "https", Host: "api.example.com", Port: 8443, Realm: "api"}, nil},
		{"other scheme", engine.ProtectionSpace{Scheme: "http", Host: "api.example.com", Port: 443, Realm: "api"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := store.Credentials(tt.space)
			require.NoError(t, err)
			var users []string
			for _, c := range creds {
				users = append(users, c.User)
			}
			assert.Equal(t, tt.want, users)
		})
	}
}

func TestStoreRemoveAndList(t *testing.T) {
	store := openStore(t)
	other := engine.ProtectionSpace{Scheme: "http", Host: "a.test", Port: 80}

	require.NoError(t, store.Set(api, engine.NewCredential("ada", "pw")))
	require.NoError(t, store.Set(other, engine.NewCredential("bob", "pw")))

	entries, err := store.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.test", entries[0].Space.Host)
	assert.True(t, entries[0].Default)
	assert.False(t, entries[0].CreatedAt.IsZero())

	require.NoError(t, store.Remove(other, "bob"))
	assert.ErrorIs(t, store.Remove(other, "bob"), ErrNotFound)

	entries, err = store.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ada", entries[0].Credential.User)
}

func TestStoreAnswersSessionChallenges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ada" || pass != "lovelace" {
			w.Header().Set("WWW-Authenticate", `Basic realm="reports"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "report")
	}))
	defer srv.Close()

	store := openStore(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/reports", nil)
	require.NoError(t, err)
	require.NoError(t, store.Set(engine.ProtectionSpace{
		Scheme: "http",
		Host:   "127.0.0.1",
		Port:   srv.Listener.Addr().(*net.TCPAddr).Port,
		Realm:  "reports",
	}, engine.NewCredential("ada", "lovelace")))

	s := session.New(
		session.WithEngine(func(events engine.Events) engine.Engine {
			return courierhttp.New(events, courierhttp.WithTimeout(5*time.Second))
		}),
		session.WithCredentialStorage(store),
	)

	done := make(chan session.DataResponse[string], 1)
	s.Request(session.FromHTTP(req)).ResponseString(func(resp session.DataResponse[string]) { done <- resp })

	select {
	case resp := <-done:
		require.NoError(t, resp.Result.Err)
		assert.Equal(t, "report", resp.Result.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

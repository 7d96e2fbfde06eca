package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/puppycloud/puppycloud/internal/auth"
	"github.com/puppycloud/puppycloud/internal/chunkstore"
	"github.com/puppycloud/puppycloud/internal/logging"
	"github.com/puppycloud/puppycloud/internal/mesh"
	"github.com/puppycloud/puppycloud/internal/p2p"
	"github.com/puppycloud/puppycloud/internal/storage"
)

const helloID = "ea8f163db38682925e4491c5e58d4bb3506ef8c14eb78a86e908c5624a67200f"

// fakeNode records dials instead of touching the network.
type fakeNode struct {
	mu    sync.Mutex
	addrs []string
	dials []string
}

func (n *fakeNode) Dial(_ context.Context, addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dials = append(n.dials, addr)
	return nil
}

func (n *fakeNode) PeerID() string { return "12D3KooWFakeNode" }

func (n *fakeNode) ListenAddrs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.addrs...)
}

func (n *fakeNode) FirstListenAddr() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.addrs) == 0 {
		return "", false
	}
	return n.addrs[0], true
}

func (n *fakeNode) Connected() int { return 0 }

func (n *fakeNode) dialed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.dials...)
}

type testEnv struct {
	srv    *Server
	db     *storage.DB
	chunks *chunkstore.Store
	auth   *auth.Service
	node   *fakeNode
	hub    *mesh.Hub
	now    time.Time
}

// clock returns the env's current fake time.
func (e *testEnv) clock() time.Time { return e.now }

// setupTestDB creates a temporary SQLite database for testing.
func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// setupTestServer wires a Server over real storage and a fake node.
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		db:   setupTestDB(t),
		node: &fakeNode{},
		hub:  mesh.NewHub(logging.Discard()),
		now:  time.Unix(1_767_225_600, 0),
	}
	chunks, err := chunkstore.New(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("chunkstore.New: %v", err)
	}
	env.chunks = chunks
	env.auth = auth.NewService(env.db, auth.NewSessions(), env.clock)
	env.srv = New(Deps{
		DB:      env.db,
		Chunks:  chunks,
		Auth:    env.auth,
		Invites: auth.NewInvites(),
		Node:    env.node,
		Events:  env.hub,
		Logger:  logging.Discard(),
		Now:     env.clock,
	})
	return env
}

func doRequest(t *testing.T, srv http.Handler, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

// loginAs creates the user and returns a Cookie header value for a session.
func loginAs(t *testing.T, env *testEnv, user, password string) string {
	t.Helper()
	rec := doRequest(t, env.srv, http.MethodPost, "/auth/set_password",
		map[string]string{"username": user, "password": password}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set_password: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": user, "password": password}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	return sidCookie(t, rec)
}

// sidCookie turns the Set-Cookie of a login response into a Cookie header.
func sidCookie(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	set := rec.Header().Get("Set-Cookie")
	if !strings.HasPrefix(set, "sid=") {
		t.Fatalf("Set-Cookie = %q, want sid=...", set)
	}
	if !strings.Contains(set, "HttpOnly") || !strings.Contains(set, "SameSite=Lax") || !strings.Contains(set, "Path=/") {
		t.Fatalf("Set-Cookie missing attributes: %q", set)
	}
	return strings.SplitN(set, ";", 2)[0]
}

func uploadFile(t *testing.T, srv http.Handler, content []byte, mime, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if mime != "" {
		if err := writer.WriteField("mime", mime); err != nil {
			t.Fatalf("write mime field: %v", err)
		}
	}
	if content != nil {
		part, err := writer.CreateFormFile("file", "upload.bin")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write file content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v; body = %s", err, rec.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)
	rec := doRequest(t, env.srv, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestUpload_HelloRoundTrip(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	rec := uploadFile(t, env.srv, []byte("hello"), "text/plain", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	m := decodeBody[chunkstore.Manifest](t, rec)
	if m.TotalSize != 5 || len(m.Chunks) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	if m.Chunks[0].ID != helloID || m.Chunks[0].Size != 5 {
		t.Fatalf("chunk = %+v, want id %s size 5", m.Chunks[0], helloID)
	}
	if m.Mime == nil || *m.Mime != "text/plain" {
		t.Fatalf("mime = %v, want text/plain", m.Mime)
	}

	onDisk := filepath.Join(env.chunks.Root(), "ea", "8f", helloID)
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("chunk not at sharded path: %v", err)
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/chunks/"+helloID, nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("GET chunk = %d %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, env.srv, http.MethodGet, "/manifests/"+helloID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET manifest = %d; body = %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[chunkstore.Manifest](t, rec)
	if got.TotalSize != 5 || got.Chunks[0].ID != helloID || !got.CreatedTS.Equal(env.now) {
		t.Fatalf("stored manifest = %+v", got)
	}
}

func TestUpload_MimeNullWhenAbsent(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	rec := uploadFile(t, env.srv, []byte("no mime here"), "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"mime":null`) {
		t.Fatalf("body = %s, want mime null", rec.Body.String())
	}
}

func TestUpload_MissingFile(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	for _, content := range [][]byte{nil, {}} {
		rec := uploadFile(t, env.srv, content, "text/plain", cookie)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("upload %v: status = %d, want 400", content, rec.Code)
		}
		if e := decodeBody[map[string]string](t, rec); e["error"] != "missing file" {
			t.Fatalf("error = %q", e["error"])
		}
	}
}

func TestGetChunk_Errors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		id   string
		want int
	}{
		{strings.Repeat("0", 64), http.StatusNotFound},
		{"abc", http.StatusBadRequest},
		{strings.ToUpper(helloID), http.StatusBadRequest},
		{"..%2F..%2Fetc%2Fpasswd", http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := doRequest(t, env.srv, http.MethodGet, "/chunks/"+tc.id, nil, "")
		if rec.Code != tc.want {
			t.Errorf("GET /chunks/%s = %d, want %d", tc.id, rec.Code, tc.want)
		}
	}

	rec := doRequest(t, env.srv, http.MethodGet, "/manifests/"+strings.Repeat("a", 64), nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown manifest = %d, want 404", rec.Code)
	}
}

func TestAuthGate(t *testing.T) {
	env := setupTestServer(t)

	routes := []struct {
		method, path string
	}{
		{http.MethodPost, "/auth/logout"},
		{http.MethodPost, "/upload"},
		{http.MethodPost, "/p2p/invite"},
		{http.MethodGet, "/p2p/events"},
	}
	cookies := []string{"", "sid=not-a-session", "other=1; theme=dark"}
	for _, rt := range routes {
		for _, c := range cookies {
			rec := doRequest(t, env.srv, rt.method, rt.path, nil, c)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s with cookie %q = %d, want 401", rt.method, rt.path, c, rec.Code)
			}
		}
	}
}

func TestSetPassword_Validation(t *testing.T) {
	env := setupTestServer(t)

	bodies := []map[string]any{
		{"username": "alice", "password": "short"},
		{"username": "", "password": "password"},
		{"password": "password"},
	}
	for _, b := range bodies {
		rec := doRequest(t, env.srv, http.MethodPost, "/auth/set_password", b, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("set_password %v = %d, want 400", b, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/set_password", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed json = %d, want 400", rec.Code)
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	env := setupTestServer(t)
	first := loginAs(t, env, "alice", "password")

	rec := doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "wrong-password"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password = %d, want 401", rec.Code)
	}
	rec = doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": "bob", "password": "password"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user = %d, want 401", rec.Code)
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/auth/logout", nil, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if set := rec.Header().Get("Set-Cookie"); !strings.HasPrefix(set, "sid=;") || !strings.Contains(set, "Max-Age=0") {
		t.Fatalf("logout Set-Cookie = %q", set)
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/auth/logout", nil, first)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reuse after logout = %d, want 401", rec.Code)
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "password"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second login = %d", rec.Code)
	}
	if second := sidCookie(t, rec); second == first {
		t.Fatal("second login reused the session id")
	}
}

func TestLogout_EndsAllSessionsOfUser(t *testing.T) {
	env := setupTestServer(t)
	a1 := loginAs(t, env, "alice", "password")
	rec := doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "password"}, "")
	a2 := sidCookie(t, rec)
	bob := loginAs(t, env, "bob", "password")

	doRequest(t, env.srv, http.MethodPost, "/auth/logout", nil, a1)

	if rec := doRequest(t, env.srv, http.MethodPost, "/p2p/invite", nil, a2); rec.Code != http.StatusUnauthorized {
		t.Errorf("alice's other session = %d, want 401", rec.Code)
	}
	if rec := uploadFile(t, env.srv, []byte("x"), "", bob); rec.Code != http.StatusOK {
		t.Errorf("bob's session = %d, want 200", rec.Code)
	}
}

func TestLogin_ExpiredPassword(t *testing.T) {
	env := setupTestServer(t)
	loginAs(t, env, "alice", "password")

	past := env.now.Unix() - 1
	if err := env.auth.SetExpiry("alice", &past); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	rec := doRequest(t, env.srv, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "password"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired login = %d, want 401", rec.Code)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	env := setupTestServer(t)
	body := map[string]string{"username": "nobody", "password": "password"}

	for i := 0; i < limitPerMinute; i++ {
		if rec := doRequest(t, env.srv, http.MethodPost, "/auth/login", body, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i+1, rec.Code)
		}
	}
	if rec := doRequest(t, env.srv, http.MethodPost, "/auth/login", body, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit = %d, want 429", rec.Code)
	}
}

func TestP2PInfo(t *testing.T) {
	env := setupTestServer(t)

	rec := doRequest(t, env.srv, http.MethodGet, "/p2p/info", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("info = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"addrs":[]`) {
		t.Fatalf("body = %s, want empty addrs array", rec.Body.String())
	}

	env.node.addrs = []string{"/ip4/127.0.0.1/tcp/4001"}
	rec = doRequest(t, env.srv, http.MethodGet, "/p2p/info", nil, "")
	info := decodeBody[p2pInfo](t, rec)
	if info.PeerID != "12D3KooWFakeNode" || len(info.Addrs) != 1 {
		t.Fatalf("info = %+v", info)
	}
}

func TestP2PPeers(t *testing.T) {
	env := setupTestServer(t)

	rec := doRequest(t, env.srv, http.MethodGet, "/p2p/peers", nil, "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty peers = %d %s", rec.Code, rec.Body.String())
	}

	if err := env.db.UpsertPeer("pidX", "/ip4/10.0.0.7/tcp/4001", 100); err != nil {
		t.Fatal(err)
	}
	if err := env.db.UpsertPeer("pidY", "", 200); err != nil {
		t.Fatal(err)
	}
	rec = doRequest(t, env.srv, http.MethodGet, "/p2p/peers", nil, "")
	peers := decodeBody[[]storage.PeerSummary](t, rec)
	if len(peers) != 2 || peers[0].PeerID != "pidY" || peers[0].LastAddr != nil {
		t.Fatalf("peers = %+v", peers)
	}
	if peers[1].LastAddr == nil || *peers[1].LastAddr != "/ip4/10.0.0.7/tcp/4001" || peers[1].LastSeen != 100 {
		t.Fatalf("pidX = %+v", peers[1])
	}
}

func TestInvite_NoAddress(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	rec := doRequest(t, env.srv, http.MethodPost, "/p2p/invite",
		map[string]any{"password": "p", "expires": env.now.Unix() + 60}, cookie)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("invite without listener = %d, want 500", rec.Code)
	}
	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/dial",
		map[string]string{"addr": "/ip4/127.0.0.1/tcp/1", "password": "p"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("failed invite still admitted dial: %d", rec.Code)
	}
}

func TestInviteGate(t *testing.T) {
	env := setupTestServer(t)
	env.node.addrs = []string{"/ip4/192.168.1.5/tcp/4001"}
	cookie := loginAs(t, env, "alice", "password")
	expires := env.now.Unix() + 60

	rec := doRequest(t, env.srv, http.MethodPost, "/p2p/invite",
		map[string]any{"password": "p", "expires": expires}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("invite = %d; body = %s", rec.Code, rec.Body.String())
	}
	inv := decodeBody[map[string]any](t, rec)
	if inv["addr"] != "/ip4/192.168.1.5/tcp/4001" || inv["password"] != "p" || int64(inv["expires"].(float64)) != expires {
		t.Fatalf("invite response = %v", inv)
	}

	dial := map[string]string{"addr": "/ip4/127.0.0.1/tcp/1", "password": "p"}
	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/dial", dial, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dial = %d; body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]string](t, rec); got["status"] != "dialing" || got["addr"] != dial["addr"] {
		t.Fatalf("dial response = %v", got)
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/dial",
		map[string]string{"addr": "/ip4/127.0.0.1/tcp/2", "password": "nope"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown invite = %d, want 401", rec.Code)
	}

	env.now = env.now.Add(61 * time.Second)
	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/dial", dial, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired invite = %d, want 401", rec.Code)
	}

	if got := env.node.dialed(); len(got) != 1 || got[0] != dial["addr"] {
		t.Fatalf("dial queue = %v, want exactly the admitted dial", got)
	}
}

func TestInvite_ExpiryBoundaryInclusive(t *testing.T) {
	env := setupTestServer(t)
	env.node.addrs = []string{"/ip4/192.168.1.5/tcp/4001"}
	cookie := loginAs(t, env, "alice", "password")

	doRequest(t, env.srv, http.MethodPost, "/p2p/invite",
		map[string]any{"password": "edge", "expires": env.now.Unix()}, cookie)
	rec := doRequest(t, env.srv, http.MethodPost, "/p2p/dial",
		map[string]string{"addr": "/ip4/127.0.0.1/tcp/1", "password": "edge"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dial at now == expires = %d, want 200", rec.Code)
	}
}

func TestPruneInvites(t *testing.T) {
	env := setupTestServer(t)
	env.srv.invites.Put("old", env.now.Unix()-1)
	env.srv.invites.Put("fresh", env.now.Unix()+60)

	if n := env.srv.pruneInvites(); n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}
	if !env.srv.invites.Valid("fresh", env.now.Unix()) {
		t.Fatal("fresh invite pruned")
	}
}

func TestEvents_StreamsObservations(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	header := http.Header{}
	header.Set("Cookie", cookie)
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/p2p/events", header)
	if err != nil {
		t.Fatalf("dial events: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	want := p2p.Observation{Kind: p2p.KindDiscovered, PeerID: "pidX", Addr: "/ip4/10.0.0.7/tcp/4001", TS: env.now.Unix()}
	env.hub.Observe(want)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got p2p.Observation
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

// uploadWithFields posts content to path with the given extra form fields.
func uploadWithFields(t *testing.T, srv http.Handler, path string, fields map[string]string, content []byte, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	part, err := writer.CreateFormFile("file", "upload.bin")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Cookie", cookie)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestUpload_MimeFromMultipartOnly(t *testing.T) {
	env := setupTestServer(t)
	cookie := loginAs(t, env, "alice", "password")

	rec := uploadWithFields(t, env.srv, "/upload?mime=text/html", nil, []byte("query mime"), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"mime":null`) {
		t.Fatalf("body = %s, want mime null when only the query sets it", rec.Body.String())
	}

	rec = uploadWithFields(t, env.srv, "/upload", map[string]string{"mime": ""}, []byte("empty mime"), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"mime":""`) {
		t.Fatalf("body = %s, want empty mime string", rec.Body.String())
	}
}

func TestSetPassword_LengthCountsBytes(t *testing.T) {
	env := setupTestServer(t)

	// Four runes, eight bytes.
	cookie := loginAs(t, env, "alice", "éééé")
	if cookie == "" {
		t.Fatal("no session for multibyte password")
	}

	rec := doRequest(t, env.srv, http.MethodPost, "/auth/set_password",
		map[string]string{"username": "bob", "password": "ééé"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("six-byte password = %d, want 400", rec.Code)
	}
}

func TestLogin_EmptyPasswordUnauthorized(t *testing.T) {
	env := setupTestServer(t)
	loginAs(t, env, "alice", "password")

	bodies := []map[string]string{
		{"username": "alice", "password": ""},
		{"username": "", "password": ""},
	}
	for _, b := range bodies {
		rec := doRequest(t, env.srv, http.MethodPost, "/auth/login", b, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("login %v = %d, want 401", b, rec.Code)
		}
		if e := decodeBody[map[string]string](t, rec); e["error"] != auth.ErrInvalidCredentials.Error() {
			t.Errorf("login %v error = %q", b, e["error"])
		}
	}

	rec := doRequest(t, env.srv, http.MethodPost, "/auth/login", map[string]string{"username": "alice"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("login without password field = %d, want 400", rec.Code)
	}
}

func TestDial_EmptyPasswordUnauthorized(t *testing.T) {
	env := setupTestServer(t)

	rec := doRequest(t, env.srv, http.MethodPost, "/p2p/dial",
		map[string]string{"addr": "/ip4/127.0.0.1/tcp/1", "password": ""}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("dial with empty password = %d, want 401", rec.Code)
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/dial",
		map[string]string{"addr": "/ip4/127.0.0.1/tcp/1"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("dial without password field = %d, want 400", rec.Code)
	}
	if got := env.node.dialed(); len(got) != 0 {
		t.Fatalf("dial queue = %v, want empty", got)
	}
}

func TestInvite_ZeroExpiresStored(t *testing.T) {
	env := setupTestServer(t)
	env.node.addrs = []string{"/ip4/192.168.1.5/tcp/4001"}
	cookie := loginAs(t, env, "alice", "password")

	rec := doRequest(t, env.srv, http.MethodPost, "/p2p/invite",
		map[string]any{"password": "zero", "expires": 0}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("invite expires=0 = %d; body = %s", rec.Code, rec.Body.String())
	}
	if inv := decodeBody[map[string]any](t, rec); inv["expires"] != float64(0) {
		t.Fatalf("invite response = %v", inv)
	}
	if !env.srv.invites.Valid("zero", 0) {
		t.Fatal("invite with expires=0 was not stored")
	}

	rec = doRequest(t, env.srv, http.MethodPost, "/p2p/invite",
		map[string]any{"password": "no-expiry"}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invite without expires field = %d, want 400", rec.Code)
	}
}

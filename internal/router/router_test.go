package router_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"SignalCAD/internal/pkg"
	"SignalCAD/internal/repository/mysql"
	"SignalCAD/internal/repository/mysql/mysqltest"
	redisrepo "SignalCAD/internal/repository/redis"
	"SignalCAD/internal/router"
	"SignalCAD/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, perSecond float64, burst int) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := mysqltest.NewDB(t)
	seq := mysql.NewSequenceRepository(db, 16200)
	users := &mysql.UserRepository{DB: db, Seq: seq}
	communities := &mysql.CommunityRepository{DB: db, Seq: seq}

	mr := miniredis.RunT(t)
	rdb, err := redisrepo.New(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := pkg.NewTokenManager("router-test-secret", time.Hour)
	require.NoError(t, err)
	enricher := service.NewEnricher(users, redisrepo.NewIdentityCache(rdb), 4, logger)

	return router.InitRouter(router.Deps{
		Users:          service.NewUserService(users, pkg.NewPasswordHasher(4), tokens, &redisrepo.SessionRepository{RDB: rdb}, logger),
		Communities:    service.NewCommunityService(communities, users, enricher, logger),
		RequestTimeout: 5 * time.Second,
		AuthRateLimit:  perSecond,
		AuthRateBurst:  burst,
	})
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func signup(t *testing.T, h http.Handler, username, email, password string) (string, float64) {
	t.Helper()
	code, body := call(t, h, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": username, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, code, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), user["id"].(float64)
}

func TestMembershipFlow(t *testing.T) {
	h := newServer(t, 100, 50)

	aliceToken, aliceID := signup(t, h, "alice", "alice@x.com", "pw123")
	assert.Equal(t, float64(16201), aliceID)

	code, community := call(t, h, http.MethodPost, "/api/communities", aliceToken, gin.H{"name": "Squad1"})
	require.Equal(t, http.StatusCreated, code, community)
	assert.Equal(t, "admin", community["role"])
	members := community["members"].([]any)
	require.Len(t, members, 1)
	first := members[0].(map[string]any)
	assert.Equal(t, aliceID, first["userId"])
	assert.Equal(t, "admin", first["role"])
	assert.Equal(t, "alice", first["username"])
	path := fmt.Sprintf("/api/communities/%.0f", community["id"].(float64))

	code, body := call(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@x.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credentials", body["kind"])

	bobToken, bobID := signup(t, h, "bob", "bob@x.com", "pw456")

	code, body = call(t, h, http.MethodGet, path, bobToken, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "none", body["role"])
	assert.Len(t, body["members"], 1)

	code, body = call(t, h, http.MethodPatch, path+"/branding", bobToken, gin.H{"primaryColor": "#000000"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "forbidden", body["kind"])

	code, body = call(t, h, http.MethodPatch, "/api/communities/1/branding", bobToken, gin.H{"primaryColor": "#000000"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])

	code, body = call(t, h, http.MethodPatch, path+"/branding", aliceToken, gin.H{"logoUrl": "https://cdn.x.com/s1.png"})
	require.Equal(t, http.StatusOK, code, body)
	branding := body["branding"].(map[string]any)
	assert.Equal(t, "#4f46e5", branding["primaryColor"])
	assert.Equal(t, "https://cdn.x.com/s1.png", branding["logoUrl"])

	memberPath := fmt.Sprintf("%s/members/%.0f", path, bobID)
	code, body = call(t, h, http.MethodPut, memberPath, aliceToken, gin.H{"role": "dispatch"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, body["members"], 2)

	code, body = call(t, h, http.MethodGet, "/api/communities", bobToken, nil)
	require.Equal(t, http.StatusOK, code, body)
	list := body["list"].([]any)
	require.Len(t, list, 1)
	mine := list[0].(map[string]any)
	assert.Equal(t, "dispatch", mine["role"])
	names := []string{}
	for _, m := range mine["members"].([]any) {
		names = append(names, m.(map[string]any)["username"].(string))
	}
	assert.Equal(t, []string{"alice", "bob"}, names)

	code, _ = call(t, h, http.MethodDelete, memberPath, bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = call(t, h, http.MethodGet, "/api/communities", bobToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["list"])
}

func TestAuthRequired(t *testing.T) {
	h := newServer(t, 100, 50)

	code, body := call(t, h, http.MethodGet, "/api/communities", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["kind"])

	code, _ = call(t, h, http.MethodGet, "/api/communities", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	token, _ := signup(t, h, "alice", "alice@x.com", "pw123")
	code, _ = call(t, h, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, h, http.MethodGet, "/api/communities", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestSignupErrors(t *testing.T) {
	h := newServer(t, 100, 50)
	signup(t, h, "alice", "alice@x.com", "pw123")

	code, body := call(t, h, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": "alice", "email": "other@x.com", "password": "pw123",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_identity", body["kind"])

	code, body = call(t, h, http.MethodPost, "/api/auth/signup", "", gin.H{
		"username": "carol", "email": "nope", "password": "pw123",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", body["kind"])

	code, _ = call(t, h, http.MethodGet, "/api/communities/abc", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthRateLimit(t *testing.T) {
	h := newServer(t, 0.001, 2)
	for i := 0; i < 2; i++ {
		code, _ := call(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com", "password": "pw123"})
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, body := call(t, h, http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@x.com", "password": "pw123"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "too many requests", body["msg"])
}

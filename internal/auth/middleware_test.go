package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rigdata/internal/auth"
	"rigdata/internal/models"
)

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

func serve(h http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequirePermission(t *testing.T) {
	svc, db, _ := newService(t)
	authn := auth.NewAuthenticator(svc, zap.NewNop().Sugar())
	h := authn.RequirePermission(models.PermissionManage)(http.HandlerFunc(ok))

	createUser(t, db, "boss", "secret1", models.RoleAdmin)
	createUser(t, db, "viewer", "secret1", models.RoleViewer)
	mgr := createUser(t, db, "mgr", "secret1", models.RoleManager)
	mgr.Permissions = []string{models.PermissionManage}
	require.NoError(t, db.Save(mgr).Error)

	token := func(name string) string {
		_, pair, err := svc.Login(context.Background(), name, "secret1")
		require.NoError(t, err)
		return "Bearer " + pair.Access.Value
	}

	assert.Equal(t, http.StatusUnauthorized, serve(h, "", ""))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "Authorization", "Bearer garbage"))
	assert.Equal(t, http.StatusNoContent, serve(h, "Authorization", token("boss")))
	assert.Equal(t, http.StatusNoContent, serve(h, "Authorization", token("mgr")))
	assert.Equal(t, http.StatusForbidden, serve(h, "Authorization", token("viewer")))
}

func TestRequireCredential_KeyTransports(t *testing.T) {
	svc, db, _ := newService(t)
	authn := auth.NewAuthenticator(svc, zap.NewNop().Sugar())
	h := authn.RequireCredential(models.PermissionWrite, models.PermissionUpload)(http.HandlerFunc(ok))

	raw, display, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	k := &models.APIKey{
		KeyName: "rig", KeyHash: hash, KeyPrefix: display,
		Scope: models.PermissionUpload, Permissions: []string{models.PermissionUpload}, IsActive: true,
	}
	require.NoError(t, db.Create(k).Error)

	assert.Equal(t, http.StatusNoContent, serve(h, "Authorization", "Bearer "+raw))
	assert.Equal(t, http.StatusNoContent, serve(h, "Authorization", "ApiKey "+raw))
	assert.Equal(t, http.StatusNoContent, serve(h, "X-API-Key", raw))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "X-API-Key", auth.APIKeyPrefix+"unknown"))

	var stored models.APIKey
	require.NoError(t, db.Take(&stored, "id = ?", k.ID).Error)
	assert.Equal(t, int64(3), stored.UsageCount)

	read := authn.RequireCredential("", models.PermissionRead)(http.HandlerFunc(ok))
	assert.Equal(t, http.StatusForbidden, serve(read, "X-API-Key", raw))

	var after models.APIKey
	require.NoError(t, db.Take(&after, "id = ?", k.ID).Error)
	assert.Equal(t, int64(3), after.UsageCount, "a refused request does not count a use")
}

func TestRequireAPIKey_RefusedRequestLeavesUsage(t *testing.T) {
	svc, db, _ := newService(t)
	authn := auth.NewAuthenticator(svc, zap.NewNop().Sugar())
	h := authn.RequireAPIKey(models.PermissionRead)(http.HandlerFunc(ok))

	raw, display, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	k := &models.APIKey{
		KeyName: "upload-only", KeyHash: hash, KeyPrefix: display,
		Scope: models.PermissionUpload, Permissions: []string{models.PermissionUpload}, IsActive: true,
	}
	require.NoError(t, db.Create(k).Error)

	assert.Equal(t, http.StatusForbidden, serve(h, "X-API-Key", raw))

	var stored models.APIKey
	require.NoError(t, db.Take(&stored, "id = ?", k.ID).Error)
	assert.Zero(t, stored.UsageCount)
	assert.Nil(t, stored.LastUsed)
}

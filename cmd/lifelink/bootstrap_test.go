package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	iauth "github.com/lifelink/lifelink/internal/auth"
)

const testSecret = "cli-test-secret-with-enough-entropy-123"

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`server:
  log_level: error
database:
  driver: sqlite
  path: %s
auth:
  jwt:
    secret: %s
    issuer: cli-test
monitoring:
  prometheus:
    enabled: false
`, filepath.Join(dir, "lifelink.sqlite"), testSecret)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testApp(out *bytes.Buffer) *cli.App {
	return &cli.App{
		Name:   "lifelink",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config"},
		},
		Commands: []*cli.Command{migrateCommand, sweepCommand, tokenCommand},
	}
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "does not exist")
}

func TestLoadApplicationConfigFromDirectory(t *testing.T) {
	path := writeConfig(t)

	cfg, err := loadApplicationConfig(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.Auth.JWT.Secret)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg, err := loadRuntimeConfig(writeConfig(t))
	require.NoError(t, err)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	defer stack.Shutdown(context.Background(), zap.NewNop())

	require.NotNil(t, stack.Tasks)
	require.Nil(t, stack.Redis)
	require.Nil(t, stack.MQTT)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMigrateAndSweepCommands(t *testing.T) {
	path := writeConfig(t)

	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"lifelink", "--config", path, "migrate"}))
	require.Contains(t, out.String(), "migrations applied")

	out.Reset()
	require.NoError(t, testApp(&out).Run([]string{"lifelink", "--config", path, "sweep", "--audit-retention-days", "30"}))
	require.Contains(t, out.String(), "expired=0 audit_pruned=0 cache_purged=0")
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	path := writeConfig(t)

	var out bytes.Buffer
	require.NoError(t, testApp(&out).Run([]string{"lifelink", "--config", path, "token", "--user", "user-7", "--admin"}))

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: testSecret, Issuer: "cli-test"})
	require.NoError(t, err)

	claims, err := jwtSvc.ValidateAccessToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "user-7", claims.UserID)
	require.True(t, claims.IsAdmin)
}

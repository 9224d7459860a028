package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/arbiter/pkg/apperr"
)

func writeTokensFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTokens(t *testing.T) {
	path := writeTokensFile(t, `
tokens:
  - token: tok-alice
    subject: alice
    tenant: T-A
    roles: [submitter]
  - token: tok-root
    subject: root
    roles: [admin, cross_tenant_admin]
`)

	v, err := LoadTokens(path)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, "T-A", id.Tenant)
	assert.True(t, id.HasRole(RoleSubmitter))

	id, err = v.Verify(context.Background(), "tok-root")
	require.NoError(t, err)
	assert.Empty(t, id.Tenant)
	assert.True(t, id.HasRole(RoleCrossTenantAdmin))

	_, err = v.Verify(context.Background(), "tok-unknown")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestLoadTokensValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "missing token",
			content: "tokens:\n  - subject: alice\n    roles: [submitter]\n",
			errMsg:  "token and subject are required",
		},
		{
			name:    "missing roles",
			content: "tokens:\n  - token: t\n    subject: alice\n",
			errMsg:  "at least one role is required",
		},
		{
			name:    "invalid yaml",
			content: "tokens: [",
			errMsg:  "parsing tokens file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTokensFile(t, tt.content)
			_, err := LoadTokens(path)
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindValidation))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadTokensMissingFile(t *testing.T) {
	_, err := LoadTokens(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

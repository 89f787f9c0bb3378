package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 9, cfg.View.PageSize)
	assert.Equal(t, 5, cfg.View.AdminPageSize)
	assert.Equal(t, 18, cfg.Moderation.MinAge)
	assert.Equal(t, 15*time.Second, cfg.Chain.ReadTimeout)
	assert.False(t, cfg.Moderation.AllowUnlinkedApproval)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: "9090"
chain:
  factory:
    address: "0x00000000000000000000000000000000000000aa"
moderation:
  admins: ["0xABCDEF0000000000000000000000000000000001"]
  link_max_elapsed: 10s
view:
  page_size: 12
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := Load(path)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Chain.Factory.Address)
	assert.Equal(t, 10*time.Second, cfg.Moderation.LinkMaxElapsed)
	assert.Equal(t, 12, cfg.View.PageSize)
	// 未在文件中出现的字段保留默认值
	assert.Equal(t, 5, cfg.View.AdminPageSize)
}

func TestIsAdmin(t *testing.T) {
	m := ModerationConfig{Admins: []string{"0xABCDEF0000000000000000000000000000000001"}}

	assert.True(t, m.IsAdmin("0xabcdef0000000000000000000000000000000001"))
	assert.False(t, m.IsAdmin("0x0000000000000000000000000000000000000002"))
	assert.False(t, m.IsAdmin(""))
}

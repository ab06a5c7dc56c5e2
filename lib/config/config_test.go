package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
	CfgFile = ""
}

func TestDefaults(t *testing.T) {
	cfg := DefaultServerConfig()

	assert.Equal(t, ":2222", cfg.Listen)
	assert.Equal(t, "lukko", cfg.VersionString)
	assert.Equal(t, uint32(DefaultReceiveWindow), cfg.Limits.ReceiveWindow)
	assert.Equal(t, uint64(DefaultRekeyBytes), cfg.Rekey.Bytes)
	assert.Equal(t, DefaultAuthAttempts, cfg.Auth.MaxAttempts)
	assert.Equal(t, []string{"publickey", "password"}, cfg.Auth.Methods)
	assert.Equal(t, "ed25519", cfg.HostKey.Type)
	assert.True(t, cfg.HostKey.Generate)
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	defer resetViper()
	resetViper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
listen: "127.0.0.1:2200"
version_string: "lukko-test"
host_key:
  type: ecdsa
auth:
  max_attempts: 3
  methods: ["publickey"]
rekey:
  bytes: 1048576
`), 0o600))

	CfgFile = cfgPath
	InitConfig()

	cfg := NewServerConfigFromViper()
	assert.Equal(t, "127.0.0.1:2200", cfg.Listen)
	assert.Equal(t, "lukko-test", cfg.VersionString)
	assert.Equal(t, "ecdsa", cfg.HostKey.Type)
	assert.Equal(t, 3, cfg.Auth.MaxAttempts)
	assert.Equal(t, []string{"publickey"}, cfg.Auth.Methods)
	assert.Equal(t, uint64(1048576), cfg.Rekey.Bytes)

	// unset keys keep their defaults
	assert.Equal(t, uint32(DefaultReceiveWindow), cfg.Limits.ReceiveWindow)
	assert.Equal(t, "/usr/lib/ssh/sftp-server", cfg.SftpServer)
}

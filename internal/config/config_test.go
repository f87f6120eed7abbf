package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseTOML = `
machine_id = "PC-01"
process_name = "game.exe"

[reconcile]
schedule = "@every 2m"
ocr_timeout = "45s"
capture_command = "capture.exe {pid} {dir}"

[reconcile.regions.channel]
x = 10
y = 20
w = 200
h = 40

[reconcile.regions.account]
x = 10
y = 80
w = 200
h = 40

[store]
type = "sqlite"
dsn = "records.db"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetmon.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, baseTOML))
	require.NoError(t, err)

	assert.Equal(t, "PC-01", c.MachineID)
	assert.Equal(t, "game.exe", c.ProcessName)
	assert.Equal(t, "@every 2m", c.Reconcile.Schedule)
	assert.Equal(t, 45*time.Second, c.Reconcile.OCRTimeout)
	assert.Equal(t, "sqlite", c.Store.Type)

	ch := c.ChannelRegion()
	assert.Equal(t, "channel", ch.Name)
	assert.Equal(t, 200, ch.W)
	acct := c.AccountRegion()
	assert.Equal(t, "account", acct.Name)
	assert.Equal(t, 80, acct.Y)
}

func TestLoadDefaults(t *testing.T) {
	toml := `
machine_id = "PC-01"
process_name = "game.exe"

[reconcile]
capture_command = "capture {pid}"

[reconcile.regions.channel]
w = 100
h = 20

[reconcile.regions.account]
w = 100
h = 20

[store]
type = "memory"
`
	c, err := Load(writeConfig(t, toml))
	require.NoError(t, err)
	assert.Equal(t, "@every 5m", c.Reconcile.Schedule)
	assert.Equal(t, "@every 5m", c.Report.Schedule)
	assert.Equal(t, "screenshots", c.Reconcile.ScreenshotsDir)
	assert.Equal(t, "127.0.0.1:8782", c.Server.Listen)
}

func TestEnvFileAndExpansion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"),
		[]byte("NOTION_TOKEN=secret-123\nNOTION_DB=db-456\n"), 0o600))

	toml := `
machine_id = "PC-01"
process_name = "game.exe"
env_file = "secrets.env"

[reconcile]
capture_command = "capture {pid}"

[reconcile.regions.channel]
w = 100
h = 20

[reconcile.regions.account]
w = 100
h = 20

[store]
type = "notion"
token = "${NOTION_TOKEN}"
database_id = "${NOTION_DB}"
`
	path := filepath.Join(dir, "fleetmon.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-123", c.Store.Token)
	assert.Equal(t, "db-456", c.Store.DatabaseID)
}

func TestValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{"missing machine id", func(c *Config) { c.MachineID = " " }, "machine_id"},
		{"missing process name", func(c *Config) { c.ProcessName = "" }, "process_name"},
		{"missing capture command", func(c *Config) { c.Reconcile.CaptureCommand = "" }, "capture_command"},
		{"bad channel region", func(c *Config) { c.Reconcile.Regions.Channel.W = 0 }, "regions.channel"},
		{"bad account region", func(c *Config) { c.Reconcile.Regions.Account.H = -1 }, "regions.account"},
		{"notion without token", func(c *Config) { c.Store = StoreConfig{Type: "notion", DatabaseID: "db"} }, "store.token"},
		{"notion without database", func(c *Config) { c.Store = StoreConfig{Type: "notion", Token: "t"} }, "store.database_id"},
		{"sqlite without dsn", func(c *Config) { c.Store = StoreConfig{Type: "sqlite"} }, "store.dsn"},
		{"no store at all", func(c *Config) { c.Store = StoreConfig{} }, "store"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, baseTOML))
			require.NoError(t, err)
			tc.mutate(c)
			err = c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoadMissingEnvFile(t *testing.T) {
	toml := "env_file = \"nope.env\"\n" + baseTOML
	_, err := Load(writeConfig(t, toml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env file")
}

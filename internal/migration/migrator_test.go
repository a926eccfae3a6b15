package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inferflow/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"PostgreSQL", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDatabaseType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestAvailableMigrations_AllDialectsMatch(t *testing.T) {
	var versions [][]uint
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dt)
		require.NoError(t, err, dt)
		require.NotEmpty(t, files, dt)

		var vs []uint
		for i, f := range files {
			if i > 0 {
				assert.Greater(t, f.version, files[i-1].version)
			}
			vs = append(vs, f.version)
		}
		versions = append(versions, vs)
	}
	// 三种方言的版本序列必须一致
	assert.Equal(t, versions[0], versions[1])
	assert.Equal(t, versions[0], versions[2])
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.ErrorContains(t, err, "database URL is required")

	_, err = NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "invalid database type")
}

func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	m, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "migrate.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMigrator_SQLiteUpDown(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	// 重复执行不报错
	require.NoError(t, m.Up(ctx))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, info.TotalMigrations, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)

	for _, table := range []string{"user_profiles", "feedback_records", "daily_usage"} {
		var n int
		require.NoError(t, m.db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n))
		assert.Equal(t, 1, n, table)
	}

	require.NoError(t, m.Down(ctx, 1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Down(ctx, 0))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestCLI_Output(t *testing.T) {
	m := newSQLiteMigrator(t)
	cli := NewCLI(m)
	var buf bytes.Buffer
	cli.SetOutput(&buf)
	ctx := context.Background()

	require.NoError(t, cli.RunVersion(ctx))
	assert.Contains(t, buf.String(), "no migrations applied yet")

	buf.Reset()
	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, buf.String(), "current version: 2")

	buf.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, buf.String(), "init_schema")
	assert.Contains(t, buf.String(), "daily_usage")
	assert.Contains(t, buf.String(), "pending: 0")
}

package migration

import (
	"fmt"

	"github.com/BaSui01/inferflow/config"
)

// NewMigratorFromDatabaseConfig 由应用的数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbCfg.MigrationURL(),
		TableName:    DefaultTableName,
	})
}

package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// autoMigrate runs extension and schema setup, gorm model migration, then
// indexes and constraints gorm cannot express.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	if err := executeMigrationSQL(ctx, p, "pre-auto-migrate", preAutoMigrateSQL); err != nil {
		return err
	}
	if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
		return fmt.Errorf("gorm auto-migrate models: %w", err)
	}
	return executeMigrationSQL(ctx, p, "post-auto-migrate", postAutoMigrateSQL)
}

func executeMigrationSQL(ctx context.Context, p *Pool, label, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
		return fmt.Errorf("execute %s SQL: %w", label, err)
	}
	return nil
}

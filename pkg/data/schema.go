package data

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/*.sql
var schemaFiles embed.FS

// SchemaManager applies the embedded schema files in name order
type SchemaManager struct {
	pool *pgxpool.Pool
}

func NewSchemaManager(pool *pgxpool.Pool) *SchemaManager {
	return &SchemaManager{
		pool: pool,
	}
}

func (sm *SchemaManager) InitializeSchema(ctx context.Context) error {
	files, err := fs.ReadDir(schemaFiles, "schema")
	if err != nil {
		return fmt.Errorf("reading schema directory: %w", err)
	}

	fileNames := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".sql") {
			fileNames = append(fileNames, f.Name())
		}
	}
	sort.Strings(fileNames)

	tx, err := sm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, fileName := range fileNames {
		content, err := schemaFiles.ReadFile("schema/" + fileName)
		if err != nil {
			return fmt.Errorf("reading schema file %s: %w", fileName, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("executing schema file %s: %w", fileName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}

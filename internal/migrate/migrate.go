// Package migrate applies the numbered SQL files under migrations/.
package migrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Direction selects which half of each migration pair to run.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Files returns the migration files for a direction in execution order.
// Up runs ascending, down runs descending.
func Files(dir string, d Direction) ([]string, error) {
	pattern := filepath.Join(dir, "*."+string(d)+".sql")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s migrations in %s", d, dir)
	}
	slices.Sort(files)
	if d == Down {
		slices.Reverse(files)
	}
	return files, nil
}

// Run executes every migration file for a direction. Each file is sent as
// one simple-protocol batch so plpgsql bodies stay intact.
func Run(ctx context.Context, pool *pgxpool.Pool, dir string, d Direction) ([]string, error) {
	files, err := Files(dir, d)
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(files))
	for _, f := range files {
		sql, err := os.ReadFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", filepath.Base(f), err)
		}
		if strings.TrimSpace(string(sql)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
		applied = append(applied, filepath.Base(f))
	}
	return applied, nil
}

package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Samoo1234/clinica-sub000/internal/migrate"
)

// OpenPool conecta em DATABASE_URL e aplica as migrations. Sem DATABASE_URL
// o teste é pulado.
func OpenPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
		return nil
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := MustMigrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func MustMigrate(ctx context.Context, pool *pgxpool.Pool) error {
	dir, err := FindMigrationsDir()
	if err != nil {
		return err
	}
	_, err = migrate.Run(ctx, pool, dir, zerolog.Nop())
	return err
}

// FindMigrationsDir sobe a partir do diretório atual até achar migrations/.
func FindMigrationsDir() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	cur := wd
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(cur, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", errors.New("migrations dir not found from working directory")
}

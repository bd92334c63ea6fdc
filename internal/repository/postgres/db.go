package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"net/url"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID serializes migrations across manager replicas
const migrationLockID = 7301945

// OpenConnection opens a PostgreSQL connection
func OpenConnection(dsn string) (*sql.DB, error) {
	parsedDSN, err := sanitizeDSN(dsn)
	if err != nil {
		parsedDSN = dsn
	}

	db, err := sql.Open("pgx", parsedDSN)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open database")
	}

	if err := db.Ping(); err != nil {
		return nil, eris.Wrap(err, "postgres: ping database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return db, nil
}

// sanitizeDSN re-encodes the password of URL-style DSNs so special
// characters survive parsing
func sanitizeDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}

	if u.User != nil {
		if password, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), password)
		}
	}

	return u.String(), nil
}

// RunMigrations runs embedded migrations under an advisory lock
func RunMigrations(db *sql.DB) error {
	ctx := context.Background()

	// advisory locks belong to a session, so pin one connection
	conn, err := db.Conn(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: acquire connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, migrationLockID)

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return eris.Wrap(err, "postgres: create migrations table")
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migrations")
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		version := strings.TrimSuffix(migration, ".up.sql")

		var exists bool
		err := conn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists)
		if err != nil {
			return eris.Wrapf(err, "postgres: check migration %s", version)
		}
		if exists {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + migration)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", migration)
		}

		zap.L().Info("applying migration", zap.String("driver", "postgres"), zap.String("version", version))

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", migration)
		}

		if _, err := conn.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", version)
		}
	}

	return nil
}

// Repositories holds all repository instances
type Repositories struct {
	Strategies *StrategyRepository
	Sessions   *SessionRepository
	Candidates *CandidateRepository
	Workers    *WorkerRepository
	Stats      *StatsRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Strategies: NewStrategyRepository(db),
		Sessions:   NewSessionRepository(db),
		Candidates: NewCandidateRepository(db),
		Workers:    NewWorkerRepository(db),
		Stats:      NewStatsRepository(db),
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

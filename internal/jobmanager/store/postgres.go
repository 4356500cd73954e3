package store

import (
	"context"
	"embed"
	"net/http"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/database"
	"github.com/SDU-eScience/UCloud-sub021/internal/common/uclouderrors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the schema of the postgres store.
func Migrations() ([]database.Migration, error) {
	return database.ReadMigrations(migrationFiles, "migrations")
}

// PostgresStore is the production store. Uniqueness of ingress domains, addresses and bindings is enforced by the
// database, so several job manager replicas can share one store.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.WithStack(&uclouderrors.ErrInvalidArgument{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	return &PostgresStore{db: db}, nil
}

// Migrate brings the schema up to date.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}
	return database.UpdateDatabase(ctx, s.db, migrations)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (s *PostgresStore) InsertIngress(ctx context.Context, ingress Ingress) error {
	_, err := s.db.Exec(ctx,
		`insert into ingresses (domain, created_by, project) values ($1, $2, $3)`,
		ingress.Domain, ingress.Owner.CreatedBy, ingress.Owner.Project)
	if isUniqueViolation(err) {
		return errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "ingress", Value: ingress.Domain})
	}
	return errors.WithStack(err)
}

func (s *PostgresStore) GetIngress(ctx context.Context, domain string) (*Ingress, error) {
	var ingress Ingress
	var boundTo *string
	err := s.db.QueryRow(ctx,
		`select domain, created_by, project, bound_to, created_at from ingresses where domain = $1`, domain).
		Scan(&ingress.Domain, &ingress.Owner.CreatedBy, &ingress.Owner.Project, &boundTo, &ingress.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	if boundTo != nil {
		ingress.BoundTo = *boundTo
	}
	return &ingress, nil
}

func (s *PostgresStore) DeleteIngress(ctx context.Context, domain string) error {
	return s.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var boundTo *string
		err := tx.QueryRow(ctx, `select bound_to from ingresses where domain = $1 for update`, domain).Scan(&boundTo)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.WithStack(&uclouderrors.ErrNotFound{Type: "ingress", Value: domain})
		} else if err != nil {
			return errors.WithStack(err)
		}
		if boundTo != nil {
			return uclouderrors.NewRequestError(http.StatusConflict, "ingress %s is in use by job %s", domain, *boundTo)
		}
		_, err = tx.Exec(ctx, `delete from ingresses where domain = $1`, domain)
		return errors.WithStack(err)
	})
}

func (s *PostgresStore) BindIngress(ctx context.Context, domain string, jobId string) error {
	tag, err := s.db.Exec(ctx,
		`update ingresses set bound_to = $2 where domain = $1 and (bound_to is null or bound_to = $2)`,
		domain, jobId)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := s.GetIngress(ctx, domain)
	if err != nil {
		return err
	}
	return errors.WithStack(&uclouderrors.ErrAlreadyExists{
		Type:    "ingress",
		Value:   domain,
		Message: "in use by job " + existing.BoundTo,
	})
}

func (s *PostgresStore) UnbindIngresses(ctx context.Context, jobId string) error {
	_, err := s.db.Exec(ctx, `update ingresses set bound_to = null where bound_to = $1`, jobId)
	return errors.WithStack(err)
}

func (s *PostgresStore) AllocatedAddresses(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.Query(ctx, `select address from network_ips`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	result := map[string]bool{}
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, errors.WithStack(err)
		}
		result[address] = true
	}
	return result, errors.WithStack(rows.Err())
}

// InsertNetworkIps relies on the unique constraint on network_ips.address; two replicas racing for the same address
// cannot both succeed.
func (s *PostgresStore) InsertNetworkIps(ctx context.Context, ips []NetworkIp) error {
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ip := range ips {
			batch.Queue(
				`insert into network_ips (id, address, created_by, project) values ($1, $2, $3, $4)`,
				ip.Id, ip.Address, ip.Owner.CreatedBy, ip.Owner.Project)
		}
		results := tx.SendBatch(ctx, batch)
		for range ips {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})
	if isUniqueViolation(err) {
		return errors.WithStack(&uclouderrors.ErrAlreadyExists{Type: "network ip", Message: "address already allocated"})
	}
	return errors.WithStack(err)
}

func (s *PostgresStore) DeleteNetworkIps(ctx context.Context, ids []string) error {
	_, err := s.db.Exec(ctx, `delete from network_ips where id = any($1)`, ids)
	return errors.WithStack(err)
}

func (s *PostgresStore) GetNetworkIp(ctx context.Context, id string) (*NetworkIp, error) {
	var ip NetworkIp
	var boundTo *string
	err := s.db.QueryRow(ctx,
		`select id, address, created_by, project, bound_to, created_at from network_ips where id = $1`, id).
		Scan(&ip.Id, &ip.Address, &ip.Owner.CreatedBy, &ip.Owner.Project, &boundTo, &ip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.WithStack(&uclouderrors.ErrNotFound{Type: "network ip", Value: id})
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	if boundTo != nil {
		ip.BoundTo = *boundTo
	}
	return &ip, nil
}

func (s *PostgresStore) BindNetworkIp(ctx context.Context, id string, jobId string) error {
	tag, err := s.db.Exec(ctx,
		`update network_ips set bound_to = $2 where id = $1 and (bound_to is null or bound_to = $2)`,
		id, jobId)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := s.GetNetworkIp(ctx, id)
	if err != nil {
		return err
	}
	return errors.WithStack(&uclouderrors.ErrAlreadyExists{
		Type:    "network ip",
		Value:   existing.Address,
		Message: "in use by job " + existing.BoundTo,
	})
}

func (s *PostgresStore) UnbindNetworkIps(ctx context.Context, jobId string) error {
	_, err := s.db.Exec(ctx, `update network_ips set bound_to = null where bound_to = $1`, jobId)
	return errors.WithStack(err)
}

func (s *PostgresStore) Uid(ctx context.Context, username string) (int64, error) {
	uid, err := s.lookupUid(ctx, username)
	if !errors.Is(err, pgx.ErrNoRows) {
		return uid, errors.WithStack(err)
	}
	_, err = s.db.Exec(ctx, `insert into user_identities (username) values ($1) on conflict (username) do nothing`, username)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	uid, err = s.lookupUid(ctx, username)
	return uid, errors.WithStack(err)
}

func (s *PostgresStore) lookupUid(ctx context.Context, username string) (int64, error) {
	var uid int64
	err := s.db.QueryRow(ctx, `select uid from user_identities where username = $1`, username).Scan(&uid)
	return uid, err
}

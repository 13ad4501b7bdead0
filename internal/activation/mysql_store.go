package activation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "orchestrall/internal/errors"
)

// MySQLStore persists activations in a MySQL table, one row per
// (tenant, plugin) pair.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens the database, verifies connectivity and ensures the
// schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN cannot be empty")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL connection")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS plugin_activations (
        id VARCHAR(64) NOT NULL,
        tenant_id VARCHAR(128) NOT NULL,
        plugin_id VARCHAR(255) NOT NULL,
        config TEXT,
        status VARCHAR(32) NOT NULL,
        metadata TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (tenant_id, plugin_id),
        INDEX idx_activation_plugin (plugin_id),
        INDEX idx_activation_status (status)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "initialise plugin_activations table")
	}
	return nil
}

// Create inserts a new activation row. A duplicate pair maps to ErrConflict.
func (s *MySQLStore) Create(ctx context.Context, act *Activation) error {
	if act == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "activation cannot be nil")
	}
	if strings.TrimSpace(act.TenantID) == "" || strings.TrimSpace(act.PluginID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "tenant id and plugin id are required")
	}

	now := time.Now().Unix()
	act.CreatedAt = now
	act.UpdatedAt = now

	configValue, err := marshalJSONColumn(act.Config)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode activation config")
	}
	metadataValue, err := marshalJSONColumn(act.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode activation metadata")
	}

	const stmt = `INSERT INTO plugin_activations
        (id, tenant_id, plugin_id, config, status, metadata, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		act.ID,
		act.TenantID,
		act.PluginID,
		configValue,
		act.Status,
		metadataValue,
		act.CreatedAt,
		act.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert activation")
	}
	return nil
}

// Get returns the activation for one pair.
func (s *MySQLStore) Get(ctx context.Context, tenantID, pluginID string) (*Activation, error) {
	const stmt = `SELECT id, tenant_id, plugin_id, config, status, metadata, created_at, updated_at
        FROM plugin_activations WHERE tenant_id = ? AND plugin_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, tenantID, pluginID)
	act, err := scanActivation(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query activation")
	}
	return act, nil
}

// Update rewrites config, status and metadata for an existing pair.
func (s *MySQLStore) Update(ctx context.Context, act *Activation) error {
	if act == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "activation cannot be nil")
	}

	configValue, err := marshalJSONColumn(act.Config)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode activation config")
	}
	metadataValue, err := marshalJSONColumn(act.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode activation metadata")
	}

	const stmt = `UPDATE plugin_activations SET config = ?, status = ?, metadata = ?, updated_at = ?
        WHERE tenant_id = ? AND plugin_id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		configValue,
		act.Status,
		metadataValue,
		now,
		act.TenantID,
		act.PluginID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "update activation")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	act.UpdatedAt = now
	return nil
}

// Delete removes the row for one pair.
func (s *MySQLStore) Delete(ctx context.Context, tenantID, pluginID string) error {
	const stmt = `DELETE FROM plugin_activations WHERE tenant_id = ? AND plugin_id = ?`

	res, err := s.db.ExecContext(ctx, stmt, tenantID, pluginID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete activation")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByTenant returns every activation for one tenant.
func (s *MySQLStore) ListByTenant(ctx context.Context, tenantID string) ([]*Activation, error) {
	const stmt = `SELECT id, tenant_id, plugin_id, config, status, metadata, created_at, updated_at
        FROM plugin_activations WHERE tenant_id = ? ORDER BY plugin_id`
	return s.queryList(ctx, stmt, tenantID)
}

// ListByPlugin returns every tenant's activation of one plugin.
func (s *MySQLStore) ListByPlugin(ctx context.Context, pluginID string) ([]*Activation, error) {
	const stmt = `SELECT id, tenant_id, plugin_id, config, status, metadata, created_at, updated_at
        FROM plugin_activations WHERE plugin_id = ? ORDER BY tenant_id`
	return s.queryList(ctx, stmt, pluginID)
}

func (s *MySQLStore) queryList(ctx context.Context, stmt string, arg any) ([]*Activation, error) {
	rows, err := s.db.QueryContext(ctx, stmt, arg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query activations")
	}
	defer rows.Close()

	var results []*Activation
	for rows.Next() {
		act, err := scanActivation(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan activation row")
		}
		results = append(results, act)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate activations")
	}
	return results, nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanActivation(scan func(dest ...any) error) (*Activation, error) {
	var act Activation
	var config, metadata sql.NullString
	if err := scan(
		&act.ID,
		&act.TenantID,
		&act.PluginID,
		&config,
		&act.Status,
		&metadata,
		&act.CreatedAt,
		&act.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if act.Config, err = unmarshalJSONColumn(config); err != nil {
		return nil, err
	}
	if act.Metadata, err = unmarshalJSONColumn(metadata); err != nil {
		return nil, err
	}
	return &act, nil
}

func marshalJSONColumn(values map[string]any) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalJSONColumn(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

var _ Store = (*MySQLStore)(nil)

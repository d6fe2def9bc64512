package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

const productColumns = `id, label, name, kind, format, version, parent_id, filter, strata,
	processing_frequency, status, update_date`

const tableColumns = `id, table_name, label, rank_order, is_spatial, is_distinct, columns, hidden_columns`

// ProductStore is the database-backed extraction.ProductRepository.
type ProductStore struct {
	db *sqldb.DB
}

var _ extraction.ProductRepository = (*ProductStore)(nil)

// NewProductStore creates a store on db. The schema must have been applied
// with Migrate.
func NewProductStore(db *sqldb.DB) *ProductStore {
	return &ProductStore{db: db}
}

// rebind rewrites ? placeholders for the store's dialect.
func (s *ProductStore) rebind(query string) string {
	if s.db.Dialect.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.db.Dialect.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the product with the given id.
func (s *ProductStore) Get(ctx context.Context, id int64, opts extraction.FetchOptions) (*extraction.Type, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+productColumns+" FROM extraction_product WHERE id = ?"), id)
	t, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(extraction.ErrNotFound, "product %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return s.withTables(ctx, t, opts)
}

// GetByLabel returns the product with the given label, case-insensitively.
func (s *ProductStore) GetByLabel(ctx context.Context, label string, opts extraction.FetchOptions) (*extraction.Type, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+productColumns+" FROM extraction_product WHERE UPPER(label) = UPPER(?)"), label)
	t, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(extraction.ErrNotFound, "product %q", label)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", label)
	}
	return s.withTables(ctx, t, opts)
}

// FindAll returns the products matching filter, ordered by label. Tables are
// not loaded.
func (s *ProductStore) FindAll(ctx context.Context, filter extraction.TypeFilter) ([]*extraction.Type, error) {
	var (
		conds []string
		args  []any
	)
	switch filter.Kind {
	case extraction.KindAny:
	case extraction.KindLive:
		// products are never live
		return []*extraction.Type{}, nil
	default:
		conds = append(conds, "kind = ?")
		args = append(args, filter.Kind.String())
	}
	if filter.Format != "" {
		conds = append(conds, "UPPER(format) = UPPER(?)")
		args = append(args, filter.Format)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Frequency != "" {
		conds = append(conds, "processing_frequency = ?")
		args = append(args, string(filter.Frequency))
	}
	if text := strings.TrimSpace(filter.SearchText); text != "" {
		conds = append(conds, "(UPPER(label) LIKE ? OR UPPER(name) LIKE ?)")
		pattern := "%" + strings.ToUpper(text) + "%"
		args = append(args, pattern, pattern)
	}

	query := "SELECT " + productColumns + " FROM extraction_product"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY label"
	return s.query(ctx, query, args...)
}

// FindByFrequency returns the enabled and disabled products refreshed at
// freq, with their tables.
func (s *ProductStore) FindByFrequency(ctx context.Context, freq extraction.Frequency) ([]*extraction.Type, error) {
	products, err := s.query(ctx,
		"SELECT "+productColumns+" FROM extraction_product WHERE processing_frequency = ? ORDER BY id", string(freq))
	if err != nil {
		return nil, err
	}
	for i, p := range products {
		if products[i], err = s.withTables(ctx, p, extraction.FetchOptions{WithTables: true}); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (s *ProductStore) query(ctx context.Context, query string, args ...any) ([]*extraction.Type, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	products := []*extraction.Type{}
	for rows.Next() {
		t, err := scanProduct(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		products = append(products, t)
	}
	return products, errors.Wrap(rows.Err(), "list products")
}

func (s *ProductStore) withTables(ctx context.Context, t *extraction.Type, opts extraction.FetchOptions) (*extraction.Type, error) {
	if !opts.WithTables {
		return t, nil
	}
	tables, err := s.tables(ctx, s.db, t.ID)
	if err != nil {
		return nil, err
	}
	t.Tables = tables
	return t, nil
}

func (s *ProductStore) tables(ctx context.Context, db sqldb.DBTX, productID int64) ([]extraction.ProductTable, error) {
	rows, err := db.QueryContext(ctx,
		s.rebind("SELECT "+tableColumns+" FROM extraction_product_table WHERE product_id = ? ORDER BY rank_order, id"), productID)
	if err != nil {
		return nil, errors.Wrapf(err, "list tables of product %d", productID)
	}
	defer rows.Close()

	tables := []extraction.ProductTable{}
	for rows.Next() {
		var (
			pt              extraction.ProductTable
			columns, hidden sql.NullString
		)
		if err := rows.Scan(&pt.ID, &pt.TableName, &pt.Label, &pt.Rank, &pt.IsSpatial, &pt.Distinct, &columns, &hidden); err != nil {
			return nil, errors.Wrap(err, "scan product table")
		}
		if err := unmarshalNullable(columns, &pt.Columns); err != nil {
			return nil, errors.Wrapf(err, "columns of %s", pt.TableName)
		}
		if err := unmarshalNullable(hidden, &pt.HiddenColumns); err != nil {
			return nil, errors.Wrapf(err, "hidden columns of %s", pt.TableName)
		}
		tables = append(tables, pt)
	}
	return tables, errors.Wrap(rows.Err(), "list product tables")
}

// ReferencedTables returns the physical tables of every stored product.
func (s *ProductStore) ReferencedTables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT table_name FROM extraction_product_table")
	if err != nil {
		return nil, errors.Wrap(err, "list referenced tables")
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan table name")
		}
		names[name] = true
	}
	return names, errors.Wrap(rows.Err(), "list referenced tables")
}

// Save inserts t when it has no id and updates it otherwise. The table list
// is replaced as a whole. A duplicate label is an ErrDataIntegrity.
func (s *ProductStore) Save(ctx context.Context, t *extraction.Type) (*extraction.Type, error) {
	if strings.TrimSpace(t.Label) == "" {
		return nil, errors.Wrap(extraction.ErrDataIntegrity, "product label is required")
	}
	if t.Kind != extraction.KindProduct && t.Kind != extraction.KindAggregation {
		return nil, errors.Wrapf(extraction.ErrDataIntegrity, "cannot store a %s type", t.Kind)
	}

	filter, err := marshalNullable(t.Filter, t.Filter == nil)
	if err != nil {
		return nil, errors.Wrap(err, "marshal filter")
	}
	strata, err := marshalNullable(t.Strata, len(t.Strata) == 0)
	if err != nil {
		return nil, errors.Wrap(err, "marshal strata")
	}
	updated := t.UpdateDate
	if updated.IsZero() {
		updated = time.Now()
	}
	parent := sql.NullInt64{Int64: t.ParentID, Valid: t.ParentID != 0}
	frequency := t.ProcessingFrequency
	if frequency == "" {
		frequency = extraction.FrequencyManual
	}
	status := t.Status
	if status == "" {
		status = extraction.StatusEnabled
	}

	id := t.ID
	err = sqldb.WithTransaction(ctx, s.db.DB, sql.LevelDefault, func(tx *sql.Tx) error {
		if id == 0 {
			row := tx.QueryRowContext(ctx, s.rebind(`INSERT INTO extraction_product
	(label, name, kind, format, version, parent_id, filter, strata, processing_frequency, status, update_date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
				t.Label, t.Name, t.Kind.String(), t.Format, t.Version, parent, filter, strata,
				string(frequency), string(status), updated)
			if err := row.Scan(&id); err != nil {
				return mapConstraint(err, t.Label)
			}
		} else {
			res, err := tx.ExecContext(ctx, s.rebind(`UPDATE extraction_product SET
	label = ?, name = ?, kind = ?, format = ?, version = ?, parent_id = ?, filter = ?, strata = ?,
	processing_frequency = ?, status = ?, update_date = ? WHERE id = ?`),
				t.Label, t.Name, t.Kind.String(), t.Format, t.Version, parent, filter, strata,
				string(frequency), string(status), updated, id)
			if err != nil {
				return mapConstraint(err, t.Label)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errors.Wrapf(extraction.ErrNotFound, "product %d", id)
			}
			if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM extraction_product_table WHERE product_id = ?"), id); err != nil {
				return errors.Wrap(err, "replace product tables")
			}
		}
		return s.insertTables(ctx, tx, id, t.Tables)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id, extraction.FetchOptions{WithTables: true})
}

func (s *ProductStore) insertTables(ctx context.Context, tx *sql.Tx, productID int64, tables []extraction.ProductTable) error {
	query := s.rebind(`INSERT INTO extraction_product_table
	(product_id, table_name, label, rank_order, is_spatial, is_distinct, columns, hidden_columns)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i, pt := range tables {
		columns, err := marshalNullable(pt.Columns, len(pt.Columns) == 0)
		if err != nil {
			return errors.Wrapf(err, "marshal columns of %s", pt.TableName)
		}
		hidden, err := marshalNullable(pt.HiddenColumns, len(pt.HiddenColumns) == 0)
		if err != nil {
			return errors.Wrapf(err, "marshal hidden columns of %s", pt.TableName)
		}
		rank := pt.Rank
		if rank == 0 {
			rank = i + 1
		}
		if _, err := tx.ExecContext(ctx, query, productID, pt.TableName, pt.Label, rank, pt.IsSpatial, pt.Distinct, columns, hidden); err != nil {
			return errors.Wrapf(err, "insert product table %s", pt.TableName)
		}
	}
	return nil
}

// Delete removes the product and drops its physical tables.
func (s *ProductStore) Delete(ctx context.Context, id int64) error {
	tables, err := s.tables(ctx, s.db, id)
	if err != nil {
		return err
	}
	err = sqldb.WithTransaction(ctx, s.db.DB, sql.LevelDefault, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM extraction_product_table WHERE product_id = ?"), id); err != nil {
			return errors.Wrap(err, "delete product tables")
		}
		res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM extraction_product WHERE id = ?"), id)
		if err != nil {
			return errors.Wrap(err, "delete product")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.Wrapf(extraction.ErrNotFound, "product %d", id)
		}
		for _, pt := range tables {
			if err := sqldb.DropTable(ctx, tx, pt.TableName); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*extraction.Type, error) {
	var (
		t                       extraction.Type
		kind, frequency, status string
		parent                  sql.NullInt64
		filter, strata          sql.NullString
	)
	err := row.Scan(&t.ID, &t.Label, &t.Name, &kind, &t.Format, &t.Version, &parent, &filter, &strata,
		&frequency, &status, &t.UpdateDate)
	if err != nil {
		return nil, err
	}
	if t.Kind, err = extraction.ParseKind(kind); err != nil {
		return nil, err
	}
	t.ParentID = parent.Int64
	t.ProcessingFrequency = extraction.Frequency(frequency)
	t.Status = extraction.Status(status)
	if filter.Valid && filter.String != "" {
		t.Filter = &extraction.Filter{}
		if err := json.Unmarshal([]byte(filter.String), t.Filter); err != nil {
			return nil, errors.Wrapf(err, "filter of product %d", t.ID)
		}
	}
	if err := unmarshalNullable(strata, &t.Strata); err != nil {
		return nil, errors.Wrapf(err, "strata of product %d", t.ID)
	}
	return &t, nil
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// mapConstraint turns a unique label violation into ErrDataIntegrity.
func mapConstraint(err error, label string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") || strings.Contains(msg, "23505") {
		return errors.Wrapf(extraction.ErrDataIntegrity, "product label %s already exists", strconv.Quote(label))
	}
	return errors.Wrap(err, "save product")
}

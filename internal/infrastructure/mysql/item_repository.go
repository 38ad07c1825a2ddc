package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
)

// MySQLItemCatalog reads the slice of the inventory table renewals depend on.
type MySQLItemCatalog struct {
	db *sql.DB
}

func NewMySQLItemCatalog(db *sql.DB) *MySQLItemCatalog {
	return &MySQLItemCatalog{db: db}
}

func (r *MySQLItemCatalog) Get(ctx context.Context, itemID string) (*domain.Item, error) {
	query := `SELECT id, name, is_available FROM items WHERE id = ?`

	var item domain.Item
	err := r.db.QueryRowContext(ctx, query, itemID).Scan(&item.ID, &item.Name, &item.IsAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

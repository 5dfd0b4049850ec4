package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"table-order/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MenuService is the catalog: lookups for the cart and checkout plus admin CRUD.
type MenuService struct {
	store Store
	log   *zap.Logger
}

func NewMenuService(store Store, log *zap.Logger) *MenuService {
	return &MenuService{store: store, log: log}
}

type MenuItemInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
}

func (in *MenuItemInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if in.Price < 0 {
		return invalid("price", "must be >= 0")
	}
	if !models.ValidCategory(in.Category) {
		return invalid("category", fmt.Sprintf("must be one of %s", strings.Join(models.Categories, ", ")))
	}
	return nil
}

func (s *MenuService) List(ctx context.Context) ([]models.MenuItem, error) {
	items, err := s.store.ListMenu(ctx)
	if err != nil {
		return nil, fmt.Errorf("list menu: %w", err)
	}
	return items, nil
}

func (s *MenuService) FindByID(ctx context.Context, id int64) (*models.MenuItem, error) {
	item, err := s.store.GetMenuItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get menu item: %w", err)
	}
	if item == nil {
		return nil, &NotFoundError{Resource: "menu item", ID: id}
	}
	return item, nil
}

// FindAllByIDs returns the items that exist; absent ids are silently skipped.
func (s *MenuService) FindAllByIDs(ctx context.Context, ids []int64) ([]models.MenuItem, error) {
	items, err := s.store.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get menu items: %w", err)
	}
	return items, nil
}

func (s *MenuService) Create(ctx context.Context, in MenuItemInput) (*models.MenuItem, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	item := &models.MenuItem{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		ImageURL:    in.ImageURL,
	}
	if err := s.store.CreateMenuItem(ctx, item); err != nil {
		return nil, fmt.Errorf("create menu item: %w", err)
	}
	s.log.Info("menu item created", zap.Int64("menu_item_id", item.ID), zap.String("name", item.Name))
	return item, nil
}

func (s *MenuService) Update(ctx context.Context, id int64, in MenuItemInput) (*models.MenuItem, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	item := &models.MenuItem{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Category:    in.Category,
		ImageURL:    in.ImageURL,
	}
	ok, err := s.store.UpdateMenuItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("update menu item: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{Resource: "menu item", ID: id}
	}
	return item, nil
}

// Delete removes the item from the catalog. Carts that still hold it fail
// checkout with ItemNotFoundError; placed orders keep their snapshot.
func (s *MenuService) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteMenuItem(ctx, id)
	if err != nil {
		return fmt.Errorf("delete menu item: %w", err)
	}
	if !ok {
		return &NotFoundError{Resource: "menu item", ID: id}
	}
	s.log.Info("menu item deleted", zap.Int64("menu_item_id", id))
	return nil
}

func (s *MenuService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.CountMenu(ctx)
	if err != nil {
		return 0, fmt.Errorf("count menu: %w", err)
	}
	return n, nil
}

// lookupItems resolves ids against the catalog and reports the ids that do
// not exist, sorted ascending.
func lookupItems(ctx context.Context, q Queries, ids []int64) (map[int64]models.MenuItem, []int64, error) {
	items, err := q.GetMenuItems(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("get menu items: %w", err)
	}
	byID := make(map[int64]models.MenuItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	var missing []int64
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if _, ok := byID[id]; !ok && !seen[id] {
			missing = append(missing, id)
		}
		seen[id] = true
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return byID, missing, nil
}

const menuColumns = `id, name, description, price, category, image_url`

func scanMenuItem(row pgx.Row) (models.MenuItem, error) {
	var it models.MenuItem
	err := row.Scan(&it.ID, &it.Name, &it.Description, &it.Price, &it.Category, &it.ImageURL)
	return it, err
}

func (p pgQueries) GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error) {
	it, err := scanMenuItem(p.q.QueryRow(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}

func (p pgQueries) GetMenuItems(ctx context.Context, ids []int64) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items WHERE id = ANY($1) ORDER BY id`, ids)
}

func (p pgQueries) ListMenu(ctx context.Context) ([]models.MenuItem, error) {
	return p.listMenu(ctx, `SELECT `+menuColumns+` FROM menu_items ORDER BY category, id`)
}

func (p pgQueries) listMenu(ctx context.Context, sql string, args ...any) ([]models.MenuItem, error) {
	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.MenuItem{}
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (p pgQueries) CreateMenuItem(ctx context.Context, item *models.MenuItem) error {
	return p.q.QueryRow(ctx, `
		INSERT INTO menu_items (name, description, price, category, image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		item.Name, item.Description, item.Price, item.Category, item.ImageURL,
	).Scan(&item.ID)
}

func (p pgQueries) UpdateMenuItem(ctx context.Context, item *models.MenuItem) (bool, error) {
	tag, err := p.q.Exec(ctx, `
		UPDATE menu_items
		SET name = $2, description = $3, price = $4, category = $5, image_url = $6, updated_at = now()
		WHERE id = $1`,
		item.ID, item.Name, item.Description, item.Price, item.Category, item.ImageURL,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p pgQueries) DeleteMenuItem(ctx context.Context, id int64) (bool, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p pgQueries) CountMenu(ctx context.Context) (int64, error) {
	var n int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM menu_items`).Scan(&n)
	return n, err
}

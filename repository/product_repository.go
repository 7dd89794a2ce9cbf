package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"catalog-svc/models"
)

// ErrProductNotFound is returned when no row matches the product id.
var ErrProductNotFound = errors.New("product not found")

const (
	listProductsQuery = `SELECT id, name, price, image_path FROM products ORDER BY id`

	createProductQuery = `INSERT INTO products (name, price, image_path) VALUES ($1, $2, $3)
		RETURNING id, name, price, image_path`

	// The locked subselect hands back the image path that was replaced, so the
	// existence check, the read of the old image and the write are one statement.
	updateProductQuery = `UPDATE products AS p
		SET name = $1, price = $2, image_path = COALESCE(NULLIF($3, ''), old.image_path)
		FROM (SELECT id, image_path FROM products WHERE id = $4 FOR UPDATE) AS old
		WHERE p.id = old.id
		RETURNING p.id, p.name, p.price, p.image_path, old.image_path`

	deleteProductQuery = `DELETE FROM products WHERE id = $1 RETURNING image_path`

	imagePathsQuery = `SELECT image_path FROM products`
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := r.db.QueryContext(ctx, listProductsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.ImagePath); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}

func (r *ProductRepository) CreateProduct(ctx context.Context, np models.NewProduct) (models.Product, error) {
	var p models.Product
	err := r.db.QueryRowContext(ctx, createProductQuery, np.Name, np.Price, np.ImagePath).
		Scan(&p.ID, &p.Name, &p.Price, &p.ImagePath)
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to insert product: %w", err)
	}
	return p, nil
}

// UpdateProduct applies u and returns the updated row together with the image
// path the row held before the update.
func (r *ProductRepository) UpdateProduct(ctx context.Context, u models.ProductUpdate) (models.Product, string, error) {
	var (
		p        models.Product
		oldImage string
	)
	err := r.db.QueryRowContext(ctx, updateProductQuery, u.Name, u.Price, u.ImagePath, u.ID).
		Scan(&p.ID, &p.Name, &p.Price, &p.ImagePath, &oldImage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Product{}, "", ErrProductNotFound
		}
		return models.Product{}, "", fmt.Errorf("failed to update product %d: %w", u.ID, err)
	}
	return p, oldImage, nil
}

// DeleteProduct removes the row and returns its image path.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id int64) (string, error) {
	var imagePath string
	if err := r.db.QueryRowContext(ctx, deleteProductQuery, id).Scan(&imagePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrProductNotFound
		}
		return "", fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	return imagePath, nil
}

// ImagePaths returns every image path referenced by a product row.
func (r *ProductRepository) ImagePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, imagePathsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query image paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan image path: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image paths: %w", err)
	}
	return paths, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

// GetCartByUser retrieves the cart owned by a user
func (t *pgTx) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := t.tx.GetContext(ctx, &cart, "SELECT id, user_id, created_at FROM carts WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// CreateCart creates an empty cart, returning the existing one if a
// concurrent request created it first
func (t *pgTx) CreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart := models.Cart{UserID: userID}
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, created_at`, userID).
		Scan(&cart.ID, &cart.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}
	return &cart, nil
}

// ListCartItems returns the items in a cart in insertion order
func (t *pgTx) ListCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := t.tx.SelectContext(ctx, &items,
		"SELECT id, cart_id, variant_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY id", cartID)
	return items, err
}

// GetCartItem retrieves a cart item by ID
func (t *pgTx) GetCartItem(ctx context.Context, itemID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := t.tx.GetContext(ctx, &item,
		"SELECT id, cart_id, variant_id, quantity FROM cart_items WHERE id = $1", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindCartItem retrieves the line holding variantID in a cart
func (t *pgTx) FindCartItem(ctx context.Context, cartID, variantID int64) (*models.CartItem, error) {
	var item models.CartItem
	err := t.tx.GetContext(ctx, &item,
		"SELECT id, cart_id, variant_id, quantity FROM cart_items WHERE cart_id = $1 AND variant_id = $2",
		cartID, variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %d in cart %d: %w", variantID, cartID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertCartItem adds a line to a cart
func (t *pgTx) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	return t.tx.GetContext(ctx, &item.ID,
		"INSERT INTO cart_items (cart_id, variant_id, quantity) VALUES ($1, $2, $3) RETURNING id",
		item.CartID, item.VariantID, item.Quantity)
}

// UpdateCartItemQuantity sets the quantity of a line
func (t *pgTx) UpdateCartItemQuantity(ctx context.Context, itemID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE cart_items SET quantity = $1 WHERE id = $2", quantity, itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// DeleteCartItem removes a line from a cart
func (t *pgTx) DeleteCartItem(ctx context.Context, itemID int64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1", itemID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cart item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// ClearCart removes every line from a cart
func (t *pgTx) ClearCart(ctx context.Context, cartID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	return err
}

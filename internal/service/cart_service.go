package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// CartService manages a user's pending selections. It never touches stock.
type CartService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(repo store.Repository) *CartService {
	return &CartService{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// GetCart returns the actor's cart with fresh prices
func (s *CartService) GetCart(ctx context.Context, actor models.Actor) (*models.CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	var view *models.CartView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartByUser(ctx, actor.UserID)
		if errors.Is(err, store.ErrNotFound) {
			view = emptyCartView(actor.UserID)
			return nil
		}
		if err != nil {
			return err
		}
		view, err = buildCartView(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddItem puts qty units of a variant in the cart, merging with an existing line
func (s *CartService) AddItem(ctx context.Context, actor models.Actor, variantID int64, qty int) (*models.CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}

	var view *models.CartView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		variant, err := tx.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		if !variant.Active {
			return fmt.Errorf("%w: %s", ErrVariantUnavailable, variant.SKU)
		}

		cart, err := tx.CreateCart(ctx, actor.UserID)
		if err != nil {
			return err
		}

		existing, err := tx.FindCartItem(ctx, cart.ID, variantID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if qty > variant.Stock {
				return quantityExceedsStock(variant, qty)
			}
			if err := tx.InsertCartItem(ctx, &models.CartItem{CartID: cart.ID, VariantID: variantID, Quantity: qty}); err != nil {
				return fmt.Errorf("failed to add cart item: %w", err)
			}
		case err != nil:
			return err
		default:
			total := existing.Quantity + qty
			if total > variant.Stock {
				return quantityExceedsStock(variant, total)
			}
			if err := tx.UpdateCartItemQuantity(ctx, existing.ID, total); err != nil {
				return err
			}
		}

		view, err = buildCartView(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", actor.UserID),
		zap.Int64("variant_id", variantID),
		zap.Int("quantity", qty))
	return view, nil
}

// UpdateQuantity sets a line's quantity. The stock check is soft: nothing is held.
func (s *CartService) UpdateQuantity(ctx context.Context, actor models.Actor, itemID int64, qty int) (*models.CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidQuantity)
	}

	var view *models.CartView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, item, err := ownedCartItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}

		variant, err := tx.GetVariant(ctx, item.VariantID)
		if err != nil {
			return err
		}
		if qty > variant.Stock {
			return quantityExceedsStock(variant, qty)
		}

		if err := tx.UpdateCartItemQuantity(ctx, item.ID, qty); err != nil {
			return err
		}
		view, err = buildCartView(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveItem deletes a line from the actor's cart
func (s *CartService) RemoveItem(ctx context.Context, actor models.Actor, itemID int64) (*models.CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	var view *models.CartView
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, item, err := ownedCartItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}
		if err := tx.DeleteCartItem(ctx, item.ID); err != nil {
			return err
		}
		view, err = buildCartView(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func ownedCartItem(ctx context.Context, tx store.Tx, actor models.Actor, itemID int64) (*models.Cart, *models.CartItem, error) {
	item, err := tx.GetCartItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	cart, err := tx.GetCartByUser(ctx, actor.UserID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && cart.ID != item.CartID) {
		return nil, nil, fmt.Errorf("%w: cart item %d belongs to another cart", ErrForbidden, itemID)
	}
	if err != nil {
		return nil, nil, err
	}
	return cart, item, nil
}

func quantityExceedsStock(v *models.Variant, qty int) error {
	return fmt.Errorf("%w: %d of %s requested, %d in stock", ErrInvalidQuantity, qty, v.SKU, v.Stock)
}

func emptyCartView(userID int64) *models.CartView {
	return &models.CartView{UserID: userID, Items: []models.CartLine{}}
}

func buildCartView(ctx context.Context, tx store.Tx, cart *models.Cart) (*models.CartView, error) {
	items, err := tx.ListCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	lines := make([]models.CartLine, 0, len(items))
	for _, it := range items {
		v, err := tx.GetVariant(ctx, it.VariantID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, models.CartLine{
			ItemID:          it.ID,
			VariantID:       v.ID,
			SKU:             v.SKU,
			ProductName:     v.ProductName,
			Quantity:        it.Quantity,
			Stock:           v.Stock,
			ListPrice:       v.Price,
			DiscountPercent: v.DiscountPercent,
		})
	}

	totals := ComputeTotals(lines)
	for i := range lines {
		lines[i].UnitPrice = totals.UnitPrices[lines[i].VariantID]
	}

	return &models.CartView{
		CartID:   cart.ID,
		UserID:   cart.UserID,
		Items:    lines,
		Subtotal: totals.Subtotal,
	}, nil
}

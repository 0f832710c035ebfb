// Package cart edits a user's cart. Stock checks here are advisory and take
// no locks; checkout re-validates under lock.
package cart

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
)

type Service struct {
	store  store.Store
	logger *zap.Logger
}

func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger}
}

func validQuantity(qty int) error {
	if qty < 1 {
		return domain.NewValidationError("quantity", "Quantity must be at least 1.")
	}
	return nil
}

func softCheck(p domain.Product, qty int) error {
	if qty > p.StockQuantity {
		return &domain.StockError{ProductID: p.ID, Requested: qty, Available: p.StockQuantity}
	}
	return nil
}

// AddItem adds qty units, merging with an existing row for the same product.
func (s *Service) AddItem(ctx context.Context, userID domain.UserID, productID domain.ProductID, qty int) (domain.CartItem, error) {
	if err := validQuantity(qty); err != nil {
		return domain.CartItem{}, err
	}
	p, err := s.store.Product(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CartItem{}, domain.NewValidationError("product_id", "The selected product does not exist.")
	}
	if err != nil {
		return domain.CartItem{}, err
	}

	existing, err := s.store.CartItemByProduct(ctx, userID, productID)
	switch {
	case err == nil:
		combined := existing.Quantity + qty
		if err := softCheck(p, combined); err != nil {
			return domain.CartItem{}, err
		}
		if err := s.store.UpdateCartItemQuantity(ctx, userID, existing.ID, combined); err != nil {
			return domain.CartItem{}, err
		}
		existing.Quantity = combined
		s.logger.Info("cart item merged",
			zap.Int64("user_id", int64(userID)),
			zap.Int64("product_id", int64(productID)),
			zap.Int64("cart_item_id", int64(existing.ID)),
			zap.Int("quantity", combined))
		return existing, nil
	case errors.Is(err, domain.ErrNotFound):
	default:
		return domain.CartItem{}, err
	}

	if err := softCheck(p, qty); err != nil {
		return domain.CartItem{}, err
	}
	it, err := s.store.InsertCartItem(ctx, userID, productID, qty)
	if err != nil {
		return domain.CartItem{}, err
	}
	s.logger.Info("cart item added",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("product_id", int64(productID)),
		zap.Int64("cart_item_id", int64(it.ID)),
		zap.Int("quantity", qty))
	return it, nil
}

func (s *Service) SetQuantity(ctx context.Context, userID domain.UserID, itemID domain.CartItemID, qty int) error {
	if err := validQuantity(qty); err != nil {
		return err
	}
	it, err := s.store.CartItem(ctx, userID, itemID)
	if err != nil {
		return err
	}
	p, err := s.store.Product(ctx, it.ProductID)
	if err != nil {
		return err
	}
	if err := softCheck(p, qty); err != nil {
		return err
	}
	if err := s.store.UpdateCartItemQuantity(ctx, userID, itemID, qty); err != nil {
		return err
	}
	s.logger.Info("cart item updated",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("product_id", int64(it.ProductID)),
		zap.Int64("cart_item_id", int64(itemID)),
		zap.Int("quantity", qty))
	return nil
}

// RemoveItem is idempotent; removing someone else's row is a no-op.
func (s *Service) RemoveItem(ctx context.Context, userID domain.UserID, itemID domain.CartItemID) error {
	if err := s.store.DeleteCartItem(ctx, userID, itemID); err != nil {
		return err
	}
	s.logger.Info("cart item removed",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("cart_item_id", int64(itemID)))
	return nil
}

func (s *Service) List(ctx context.Context, userID domain.UserID) (domain.Cart, error) {
	items, err := s.store.CartItems(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	ids := make([]domain.ProductID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.Products(ctx, ids)
	if err != nil {
		return domain.Cart{}, err
	}
	return domain.NewCart(userID, items, products), nil
}

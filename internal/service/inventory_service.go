package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// InventoryService is the operator-facing side of the stock ledger
type InventoryService struct {
	repo   store.Repository
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(repo store.Repository) *InventoryService {
	return &InventoryService{
		repo:   repo,
		logger: util.GetLogger(),
	}
}

// applyMovement is the only path that changes variant stock. It updates the
// level and appends the matching ledger entry in the caller's transaction.
func applyMovement(ctx context.Context, tx store.Tx, variantID int64, typ models.MovementType, delta int, reason string) (int, error) {
	stock, err := tx.AdjustVariantStock(ctx, variantID, delta)
	if err != nil {
		return 0, err
	}

	if err := tx.InsertStockMovement(ctx, &models.StockMovement{
		VariantID: variantID,
		Type:      typ,
		Quantity:  delta,
		Reason:    reason,
	}); err != nil {
		return 0, fmt.Errorf("failed to record stock movement: %w", err)
	}
	return stock, nil
}

// Adjust records a manual stock change. Inbound must be positive, Outbound
// negative, Adjustment any non-zero delta. Stock never goes below zero.
func (s *InventoryService) Adjust(ctx context.Context, actor models.Actor, variantID int64, typ models.MovementType, delta int, reason string) (*models.Variant, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Adjust")
	defer span.End()

	if !actor.IsOperator() {
		return nil, ErrForbidden
	}
	if err := validateAdjustment(typ, delta, reason); err != nil {
		return nil, err
	}

	var variant *models.Variant
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockVariants(ctx, []int64{variantID})
		if err != nil {
			return err
		}
		v, ok := locked[variantID]
		if !ok {
			return fmt.Errorf("variant %d: %w", variantID, store.ErrNotFound)
		}

		stock, err := applyMovement(ctx, tx, variantID, typ, delta, strings.TrimSpace(reason))
		if err != nil {
			return err
		}
		v.Stock = stock

		reserved, err := tx.ReservedQuantities(ctx, []int64{variantID})
		if err != nil {
			return err
		}
		if stock < reserved[variantID] {
			s.logger.Warn("Stock adjusted below reserved quantity",
				zap.String("sku", v.SKU),
				zap.Int("stock", stock),
				zap.Int("reserved", reserved[variantID]))
		}

		if err := tx.InsertAuditLog(ctx, &models.AuditLog{
			UserID:    actor.UserID,
			Action:    models.AuditActionStockAdjustment,
			TableName: "product_variants",
			RecordID:  variantID,
			IP:        actor.IP,
		}); err != nil {
			return err
		}

		variant = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.StockMovementsTotal.WithLabelValues(string(typ)).Inc()
	s.logger.Info("Stock adjusted",
		zap.Int64("variant_id", variantID),
		zap.String("type", string(typ)),
		zap.Int("delta", delta),
		zap.Int("stock", variant.Stock))
	return variant, nil
}

func validateAdjustment(typ models.MovementType, delta int, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidAdjustment)
	}
	switch typ {
	case models.MovementInbound:
		if delta <= 0 {
			return fmt.Errorf("%w: inbound quantity must be positive", ErrInvalidAdjustment)
		}
	case models.MovementOutbound:
		if delta >= 0 {
			return fmt.Errorf("%w: outbound quantity must be negative", ErrInvalidAdjustment)
		}
	case models.MovementAdjustment:
		if delta == 0 {
			return fmt.Errorf("%w: adjustment must change stock", ErrInvalidAdjustment)
		}
	default:
		return fmt.Errorf("%w: unknown movement type %q", ErrInvalidAdjustment, typ)
	}
	return nil
}

// Movements lists a variant's ledger, newest first
func (s *InventoryService) Movements(ctx context.Context, actor models.Actor, variantID int64) ([]models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Movements")
	defer span.End()

	if !actor.IsOperator() {
		return nil, ErrForbidden
	}

	var movements []models.StockMovement
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetVariant(ctx, variantID); err != nil {
			return err
		}
		var err error
		movements, err = tx.ListStockMovements(ctx, variantID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// Reconcile checks sum(movements) == stock - initial_stock for a variant
func (s *InventoryService) Reconcile(ctx context.Context, variantID int64) (*models.LedgerReconciliation, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reconcile")
	defer span.End()

	var rec *models.LedgerReconciliation
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVariant(ctx, variantID)
		if err != nil {
			return err
		}
		sum, err := tx.SumStockMovements(ctx, variantID)
		if err != nil {
			return err
		}
		rec = &models.LedgerReconciliation{
			VariantID:    v.ID,
			SKU:          v.SKU,
			Stock:        v.Stock,
			InitialStock: v.InitialStock,
			MovementSum:  sum,
			Consistent:   sum == v.Stock-v.InitialStock,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !rec.Consistent {
		s.logger.Error("Stock ledger out of balance",
			zap.String("sku", rec.SKU),
			zap.Int("stock", rec.Stock),
			zap.Int("initial_stock", rec.InitialStock),
			zap.Int("movement_sum", rec.MovementSum))
	}
	return rec, nil
}

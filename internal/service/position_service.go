package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dushixiang/relay/internal/metrics"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/repo"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderPlacer 平仓路径需要的下单能力，由订单服务实现
type OrderPlacer interface {
	Create(ctx context.Context, accountID int64, spec OrderSpec, idemKey string) (*models.Order, error)
	Reconcile(ctx context.Context, order *models.Order) error
}

// PositionService 持仓服务，持仓完全由订单成交推导
type PositionService struct {
	logger *zap.Logger

	*orz.Service
	*repo.PositionRepo

	lanes  *laneLock
	orders OrderPlacer // 订单服务构造时回填
}

// NewPositionService 创建持仓服务
func NewPositionService(db *gorm.DB, logger *zap.Logger) *PositionService {
	return &PositionService{
		logger:       logger,
		Service:      orz.NewService(db),
		PositionRepo: repo.NewPositionRepo(db),
		lanes:        newLaneLock(),
	}
}

func positionKey(accountID int64, symbol string, side models.PositionSide) string {
	return fmt.Sprintf("position:%d:%s:%s", accountID, symbol, side)
}

// Get 按ID查找持仓
func (s *PositionService) Get(ctx context.Context, id string) (models.Position, error) {
	position, err := s.PositionRepo.FindById(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return position, xe.ErrPositionNotFound
		}
		return position, err
	}
	return position, nil
}

// ApplyFill 把一笔成交增量套用到持仓上
// 开仓方向做规模加权均价，平仓方向按入场均价结转已实现盈亏
func (s *PositionService) ApplyFill(ctx context.Context, order *models.Order, fillQty, fillPrice, fee decimal.Decimal) error {
	if !fillQty.IsPositive() {
		return nil
	}
	side := order.PositionSideForFill()

	unlock := s.lanes.Lock(positionKey(order.AccountID, order.Symbol, side))
	defer unlock()

	position, err := s.PositionRepo.FindOpen(ctx, order.AccountID, order.Symbol, side)
	if order.ReduceOnly {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 本地没有对应持仓，成交无处结转，只记录不报错
			s.logger.Warn("reduce-only fill without local position",
				zap.Int64("account_id", order.AccountID),
				zap.String("symbol", order.Symbol),
				zap.String("side", string(side)))
			return nil
		}
		if err != nil {
			return err
		}
		return s.applyClose(ctx, &position, fillQty, fillPrice, fee)
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		position = models.Position{
			ID:          ulid.Make().String(),
			AccountID:   order.AccountID,
			Symbol:      order.Symbol,
			Side:        side,
			Size:        fillQty,
			EntryPrice:  fillPrice,
			RealizedPnl: fee.Neg(),
			IsOpen:      true,
			OpenedAt:    time.Now(),
		}
		if err := s.PositionRepo.Create(ctx, &position); err != nil {
			return err
		}
		metrics.PositionsOpen.Inc()
		s.logger.Info("position opened",
			zap.String("position_id", position.ID),
			zap.Int64("account_id", position.AccountID),
			zap.String("symbol", position.Symbol),
			zap.String("side", string(side)),
			zap.String("size", position.Size.String()))
		return nil
	}
	if err != nil {
		return err
	}

	// 加仓，入场价按规模加权
	newSize := position.Size.Add(fillQty)
	position.EntryPrice = position.EntryPrice.Mul(position.Size).
		Add(fillPrice.Mul(fillQty)).
		Div(newSize)
	position.Size = newSize
	position.RealizedPnl = position.RealizedPnl.Sub(fee)
	return s.PositionRepo.Save(ctx, &position)
}

// applyClose 平仓成交，超出持仓规模的部分截断
func (s *PositionService) applyClose(ctx context.Context, position *models.Position, fillQty, fillPrice, fee decimal.Decimal) error {
	closeQty := decimal.Min(fillQty, position.Size)
	realized := fillPrice.Sub(position.EntryPrice).
		Mul(closeQty).
		Mul(position.DirectionSign()).
		Sub(fee)
	position.RealizedPnl = position.RealizedPnl.Add(realized)
	position.Size = position.Size.Sub(closeQty)

	// 部分平仓保持入场均价不变
	if !position.Size.IsPositive() {
		now := time.Now()
		position.Size = decimal.Zero
		position.UnrealizedPnl = decimal.Zero
		position.IsOpen = false
		position.ClosedAt = &now
		metrics.PositionsOpen.Dec()
		s.logger.Info("position closed",
			zap.String("position_id", position.ID),
			zap.String("realized_pnl", position.RealizedPnl.String()))
	}
	return s.PositionRepo.Save(ctx, position)
}

const (
	closeWaitAttempts = 5
	closeWaitInterval = 500 * time.Millisecond
)

// Close 全量平仓，下发反向只减仓市价单并等待其到终态
// 同一(账户,交易对,方向)的平仓请求串行，后到者看到已平仓直接报错
func (s *PositionService) Close(ctx context.Context, accountID int64, symbol string, side models.PositionSide) (*models.Order, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	if !side.Valid() {
		return nil, xe.ErrInvalidParams
	}

	unlock := s.lanes.Lock("close:" + positionKey(accountID, symbol, side))
	defer unlock()

	position, err := s.PositionRepo.FindOpen(ctx, accountID, symbol, side)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xe.ErrPositionNotFound
		}
		return nil, err
	}

	spec := OrderSpec{
		Symbol:     symbol,
		Side:       side.CloseOrderSide(),
		Type:       models.OrderTypeMarket,
		Amount:     position.Size,
		ReduceOnly: true,
	}
	order, err := s.orders.Create(ctx, accountID, spec, "close-"+position.ID)
	if err != nil {
		return order, err
	}

	// 市价平仓通常立即成交，有界等待终态，超时交给对账任务
	for i := 0; i < closeWaitAttempts && !order.Status.Terminal(); i++ {
		select {
		case <-time.After(closeWaitInterval):
		case <-ctx.Done():
			return order, nil
		}
		if err := s.orders.Reconcile(ctx, order); err != nil {
			s.logger.Warn("close order reconcile failed",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	return order, nil
}

// UpdateUnrealized 刷新持仓的未实现盈亏，已平仓的跳过
func (s *PositionService) UpdateUnrealized(ctx context.Context, positionID string, pnl decimal.Decimal) error {
	position, err := s.PositionRepo.FindById(ctx, positionID)
	if err != nil {
		return err
	}
	if !position.IsOpen {
		return nil
	}
	position.UnrealizedPnl = pnl
	return s.PositionRepo.Save(ctx, &position)
}

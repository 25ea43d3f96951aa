package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/metrics"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/repo"
	"github.com/dushixiang/relay/internal/telegram"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

// OrderSpec 下单参数，已脱离具体传输层
type OrderSpec struct {
	Symbol     string
	Side       models.OrderSide
	Type       models.OrderType
	Amount     decimal.Decimal
	Price      decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	ReduceOnly bool
	SignalID   string
}

// OrderService 订单服务，负责状态机与交易所提交
type OrderService struct {
	logger *zap.Logger

	*orz.Service
	*repo.OrderRepo

	accountService  *AccountService
	positionService *PositionService
	notifier        *telegram.Telegram
	lanes           *laneLock
	conf            *config.Config
}

// NewOrderService 创建订单服务，同时把自己回填给持仓服务的平仓路径
func NewOrderService(db *gorm.DB, accountService *AccountService, positionService *PositionService,
	notifier *telegram.Telegram, conf *config.Config, logger *zap.Logger) *OrderService {
	s := &OrderService{
		logger:          logger,
		Service:         orz.NewService(db),
		OrderRepo:       repo.NewOrderRepo(db),
		accountService:  accountService,
		positionService: positionService,
		notifier:        notifier,
		lanes:           newLaneLock(),
		conf:            conf,
	}
	positionService.orders = s
	return s
}

func (s *OrderService) validateSpec(spec *OrderSpec) error {
	spec.Symbol = exchange.NormalizeSymbol(spec.Symbol)
	if !symbolPattern.MatchString(spec.Symbol) {
		return fmt.Errorf("%w: symbol格式不合法", xe.ErrInvalidParams)
	}
	if !spec.Side.Valid() {
		return fmt.Errorf("%w: side必须为buy或sell", xe.ErrInvalidParams)
	}
	if !spec.Type.Valid() {
		return fmt.Errorf("%w: 不支持的订单类型 %s", xe.ErrInvalidParams, spec.Type)
	}
	if !spec.Amount.IsPositive() {
		return fmt.Errorf("%w: amount必须为正数", xe.ErrInvalidParams)
	}
	if spec.Type.RequiresPrice() && (!spec.Price.Valid || !spec.Price.Decimal.IsPositive()) {
		return fmt.Errorf("%w: %s订单必须携带price", xe.ErrInvalidParams, spec.Type)
	}
	if spec.Type.RequiresStopPrice() && (!spec.StopPrice.Valid || !spec.StopPrice.Decimal.IsPositive()) {
		return fmt.Errorf("%w: %s订单必须携带stop_price", xe.ErrInvalidParams, spec.Type)
	}
	return nil
}

// Create 创建并提交订单
// 同一账户的提交串行执行，带幂等键的重复请求直接返回已有订单
func (s *OrderService) Create(ctx context.Context, accountID int64, spec OrderSpec, idemKey string) (*models.Order, error) {
	if err := s.validateSpec(&spec); err != nil {
		return nil, err
	}

	unlock := s.lanes.Lock(fmt.Sprintf("account:%d", accountID))
	defer unlock()

	if idemKey != "" {
		existing, err := s.OrderRepo.FindByIdempotencyKey(ctx, accountID, idemKey)
		if err == nil {
			// 拒单不占用幂等键，否则一次拒单会让同一键的重试永远拿不到交易所
			if existing.Status != models.OrderStatusRejected {
				return &existing, nil
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	account, err := s.accountService.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.accountService.Adapter(ctx, &account)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             ulid.Make().String(),
		AccountID:      accountID,
		IdempotencyKey: idemKey,
		Symbol:         spec.Symbol,
		Side:           spec.Side,
		Type:           spec.Type,
		Amount:         spec.Amount,
		Price:          spec.Price,
		StopPrice:      spec.StopPrice,
		ReduceOnly:     spec.ReduceOnly,
		ClientOrderID:  exchange.NewClientOrderID(),
		Status:         models.OrderStatusPending,
		SignalID:       spec.SignalID,
	}
	if err := s.OrderRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	return s.submit(ctx, adapter, order, spec)
}

// submit 向交易所提交订单并落地结果
func (s *OrderService) submit(ctx context.Context, adapter exchange.Exchange, order *models.Order, spec OrderSpec) (*models.Order, error) {
	req := exchange.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Side:          exchange.OrderSide(order.Side),
		Type:          exchange.OrderType(order.Type),
		Amount:        order.Amount,
		ReduceOnly:    order.ReduceOnly,
		ClientOrderID: order.ClientOrderID,
	}
	if spec.Price.Valid {
		req.Price = spec.Price.Decimal
	}
	if spec.StopPrice.Valid {
		req.StopPrice = spec.StopPrice.Decimal
	}

	exchangeName := string(adapter.Name())
	timeout := time.Duration(s.conf.Exchange.Timeout()) * time.Second
	start := time.Now()

	var result *exchange.OrderResult
	var placeErr error
	// 限频时退避重试，其他错误不重复提交
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, placeErr = adapter.PlaceOrder(callCtx, req)
		cancel()
		if placeErr == nil || !errors.Is(placeErr, exchange.ErrRateLimited) || attempt >= s.conf.Exchange.Attempts()-1 {
			break
		}
		select {
		case <-time.After(exchange.Backoff(attempt)):
		case <-ctx.Done():
			placeErr = ctx.Err()
		}
		if placeErr != nil && !errors.Is(placeErr, exchange.ErrRateLimited) {
			break
		}
	}
	metrics.OrderSubmitDuration.WithLabelValues(exchangeName).Observe(time.Since(start).Seconds())

	if placeErr != nil {
		kind := exchange.KindLabel(placeErr)
		metrics.ExchangeErrorsTotal.WithLabelValues(exchangeName, kind).Inc()

		switch {
		case errors.Is(placeErr, exchange.ErrTransient) || errors.Is(placeErr, context.DeadlineExceeded):
			// 请求可能已经送达交易所，保持submitted等对账任务按ClientOrderID核实
			if err := s.transition(ctx, order, models.OrderStatusSubmitted); err != nil {
				return order, err
			}
			s.logger.Warn("order submit timed out, pending reconcile",
				zap.String("order_id", order.ID),
				zap.String("client_order_id", order.ClientOrderID),
				zap.Error(placeErr))
			metrics.OrdersTotal.WithLabelValues(exchangeName, "submitted").Inc()
			return order, nil
		case errors.Is(placeErr, exchange.ErrRateLimited):
			s.reject(ctx, order, exchangeName, kind, placeErr)
			return order, xe.ErrExchangeRateLimit
		case errors.Is(placeErr, exchange.ErrAuth):
			s.reject(ctx, order, exchangeName, kind, placeErr)
			s.notify(fmt.Sprintf("⚠️ 账户 %d 凭证被交易所拒绝", order.AccountID))
			return order, xe.ErrExchangeAuth
		case errors.Is(placeErr, exchange.ErrInvalidQuantity):
			s.reject(ctx, order, exchangeName, kind, placeErr)
			return order, xe.ErrInvalidQuantity
		default:
			// 余额不足等业务拒绝，订单记为rejected但不抛错
			s.reject(ctx, order, exchangeName, kind, placeErr)
			return order, nil
		}
	}

	order.Status = models.OrderStatusSubmitted
	order.ExchangeOrderID = result.ExchangeOrderID
	if err := s.applyResult(ctx, order, result); err != nil {
		return order, err
	}
	metrics.OrdersTotal.WithLabelValues(exchangeName, "submitted").Inc()
	s.logger.Info("order submitted",
		zap.String("order_id", order.ID),
		zap.String("exchange_order_id", order.ExchangeOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("status", string(order.Status)))
	return order, nil
}

func (s *OrderService) reject(ctx context.Context, order *models.Order, exchangeName, kind string, cause error) {
	order.ErrorKind = kind
	if models.CanTransition(order.Status, models.OrderStatusRejected) {
		order.Status = models.OrderStatusRejected
	}
	if err := s.OrderRepo.Save(ctx, order); err != nil {
		s.logger.Error("save rejected order failed", zap.String("order_id", order.ID), zap.Error(err))
	}
	metrics.OrdersTotal.WithLabelValues(exchangeName, "rejected").Inc()
	s.logger.Warn("order rejected",
		zap.String("order_id", order.ID),
		zap.String("kind", kind),
		zap.Error(cause))
}

// transition 校验并落地状态流转
func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus) error {
	if !models.CanTransition(order.Status, to) {
		return xe.ErrInvalidState
	}
	order.Status = to
	return s.OrderRepo.Save(ctx, order)
}

// applyResult 把交易所回执套用到订单，成交增量结转到持仓
func (s *OrderService) applyResult(ctx context.Context, order *models.Order, result *exchange.OrderResult) error {
	fillDelta := result.Filled.Sub(order.FilledAmount)
	feeDelta := result.Fee.Sub(order.Fee)
	if feeDelta.IsNegative() {
		feeDelta = decimal.Zero
	}

	if fillDelta.IsPositive() {
		fillPrice := result.AvgPrice
		if fillPrice.IsZero() && order.Price.Valid {
			fillPrice = order.Price.Decimal
		}
		if err := s.positionService.ApplyFill(ctx, order, fillDelta, fillPrice, feeDelta); err != nil {
			return err
		}
		order.FilledAmount = result.Filled
	}
	if !result.AvgPrice.IsZero() {
		order.AvgPrice = result.AvgPrice
	}
	if !result.Fee.IsZero() {
		order.Fee = result.Fee
		order.FeeCurrency = result.FeeCurrency
	}
	if result.ExchangeOrderID != "" {
		order.ExchangeOrderID = result.ExchangeOrderID
	}

	newStatus := models.OrderStatus(result.Status)
	if newStatus != order.Status && models.CanTransition(order.Status, newStatus) {
		order.Status = newStatus
		if newStatus == models.OrderStatusFilled {
			s.notify(fmt.Sprintf("✅ 订单成交 %s %s %s 数量 %s 均价 %s",
				order.Symbol, order.Side, order.Type,
				order.FilledAmount.String(), order.AvgPrice.String()))
		}
	}
	return s.OrderRepo.Save(ctx, order)
}

// Get 按ID查找订单
func (s *OrderService) Get(ctx context.Context, id string) (models.Order, error) {
	order, err := s.OrderRepo.FindById(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return order, xe.ErrOrderNotFound
		}
		return order, err
	}
	return order, nil
}

// Cancel 取消订单，仅submitted和partial状态允许
func (s *OrderService) Cancel(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusSubmitted && order.Status != models.OrderStatusPartial {
		return nil, xe.ErrInvalidState
	}

	account, err := s.accountService.Get(ctx, order.AccountID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.accountService.Adapter(ctx, &account)
	if err != nil {
		return nil, err
	}

	query := exchange.OrderQuery{
		ExchangeOrderID: order.ExchangeOrderID,
		ClientOrderID:   order.ClientOrderID,
	}
	if err := adapter.CancelOrder(ctx, order.Symbol, query); err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// 交易所侧已经不在了，对账一次拿到真实终态
			if rerr := s.Reconcile(ctx, &order); rerr != nil {
				return nil, rerr
			}
			return &order, nil
		}
		return nil, s.mapExchangeError(err)
	}

	if err := s.transition(ctx, &order, models.OrderStatusCanceled); err != nil {
		return nil, err
	}
	s.logger.Info("order canceled", zap.String("order_id", order.ID))
	return &order, nil
}

// Reconcile 用交易所侧状态纠正本地订单
// 交易所查不到且超过宽限期的订单按丢失处理
func (s *OrderService) Reconcile(ctx context.Context, order *models.Order) error {
	if order.Status.Terminal() {
		return nil
	}
	// pending说明提交流程没有走完，宽限期内给在途提交留时间，过期后按ClientOrderID核实
	if order.Status == models.OrderStatusPending &&
		time.Since(order.CreatedAt) <= time.Duration(s.conf.Reconcile.StaleAfter())*time.Second {
		return nil
	}

	account, err := s.accountService.Get(ctx, order.AccountID)
	if err != nil {
		return err
	}
	adapter, err := s.accountService.Adapter(ctx, &account)
	if err != nil {
		return err
	}

	query := exchange.OrderQuery{
		ExchangeOrderID: order.ExchangeOrderID,
		ClientOrderID:   order.ClientOrderID,
	}
	var result *exchange.OrderResult
	err = exchange.Retry(ctx, 2, func() error {
		var fetchErr error
		result, fetchErr = adapter.FetchOrder(ctx, order.Symbol, query)
		return fetchErr
	})
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			staleAfter := time.Duration(s.conf.Reconcile.StaleAfter()) * time.Second
			if time.Since(order.CreatedAt) > staleAfter {
				s.reject(ctx, order, string(account.Exchange), "not_found", err)
			}
			return nil
		}
		return err
	}
	if order.Status == models.OrderStatusPending {
		// 订单其实已经送达过交易所，补上submitted再套用回执
		order.Status = models.OrderStatusSubmitted
	}
	return s.applyResult(ctx, order, result)
}

// ReconcileOpen 对账所有未到终态的订单
func (s *OrderService) ReconcileOpen(ctx context.Context) error {
	orders, err := s.OrderRepo.FindNonTerminal(ctx)
	if err != nil {
		return err
	}
	for i := range orders {
		if err := s.Reconcile(ctx, &orders[i]); err != nil {
			s.logger.Warn("order reconcile failed",
				zap.String("order_id", orders[i].ID), zap.Error(err))
		}
	}
	return nil
}

func (s *OrderService) mapExchangeError(err error) error {
	switch {
	case errors.Is(err, exchange.ErrRateLimited):
		return xe.ErrExchangeRateLimit
	case errors.Is(err, exchange.ErrAuth):
		return xe.ErrExchangeAuth
	case errors.Is(err, exchange.ErrTransient):
		return xe.ErrExchangeTransient
	default:
		return err
	}
}

func (s *OrderService) notify(text string) {
	if s.notifier != nil {
		s.notifier.Notify(text)
	}
}

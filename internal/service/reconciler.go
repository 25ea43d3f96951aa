package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/metrics"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler 后台对账任务
// 周期性把未到终态的订单和开仓中的持仓与交易所侧核对
type Reconciler struct {
	logger *zap.Logger

	cron            *cron.Cron
	orderService    *OrderService
	positionService *PositionService
	accountService  *AccountService
	conf            *config.Config
}

// NewReconciler 创建对账任务
func NewReconciler(orderService *OrderService, positionService *PositionService,
	accountService *AccountService, conf *config.Config, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		logger:          logger,
		cron:            cron.New(),
		orderService:    orderService,
		positionService: positionService,
		accountService:  accountService,
		conf:            conf,
	}
}

// Start 注册并启动定时任务
func (r *Reconciler) Start() error {
	spec := fmt.Sprintf("@every %ds", r.conf.Reconcile.Interval())
	if _, err := r.cron.AddFunc(spec, r.runOnce); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("reconciler started", zap.String("interval", spec))
	return nil
}

// Stop 停止定时任务，等待进行中的一轮结束
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reconciler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.conf.Reconcile.Interval())*time.Second)
	defer cancel()

	result := "ok"
	if err := r.orderService.ReconcileOpen(ctx); err != nil {
		r.logger.Warn("order reconcile round failed", zap.Error(err))
		result = "error"
	}
	if err := r.refreshUnrealized(ctx); err != nil {
		r.logger.Warn("position pnl refresh failed", zap.Error(err))
		result = "error"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
}

// refreshUnrealized 用最新标记价刷新开仓持仓的未实现盈亏
func (r *Reconciler) refreshUnrealized(ctx context.Context) error {
	positions, err := r.positionService.FindAllOpen(ctx)
	if err != nil {
		return err
	}

	// 同一账户的适配器在一轮内复用，创建失败的记为nil不再重试
	adapters := make(map[int64]exchange.Exchange)
	for i := range positions {
		position := &positions[i]

		adapter, ok := adapters[position.AccountID]
		if !ok {
			account, err := r.accountService.Get(ctx, position.AccountID)
			if err != nil {
				r.logger.Warn("account lookup failed during pnl refresh",
					zap.Int64("account_id", position.AccountID), zap.Error(err))
				adapters[position.AccountID] = nil
				continue
			}
			adapter, err = r.accountService.Adapter(ctx, &account)
			if err != nil {
				r.logger.Warn("adapter init failed during pnl refresh",
					zap.Int64("account_id", position.AccountID), zap.Error(err))
				adapters[position.AccountID] = nil
				continue
			}
			adapters[position.AccountID] = adapter
		}
		if adapter == nil {
			continue
		}

		ticker, err := adapter.FetchTicker(ctx, position.Symbol)
		if err != nil {
			r.logger.Warn("ticker fetch failed during pnl refresh",
				zap.String("symbol", position.Symbol), zap.Error(err))
			continue
		}
		pnl := position.MarkPnl(ticker.Last)
		if err := r.positionService.UpdateUnrealized(ctx, position.ID, pnl); err != nil {
			r.logger.Warn("pnl update failed",
				zap.String("position_id", position.ID), zap.Error(err))
		}
	}
	return nil
}

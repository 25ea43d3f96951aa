package service

import (
	"context"

	"github.com/dushixiang/relay/pkg/exchange"
	"go.uber.org/zap"
)

// MarketService 行情查询服务，借用账户凭证访问对应交易所
type MarketService struct {
	logger         *zap.Logger
	accountService *AccountService
}

// NewMarketService 创建行情服务
func NewMarketService(accountService *AccountService, logger *zap.Logger) *MarketService {
	return &MarketService{
		logger:         logger,
		accountService: accountService,
	}
}

// Klines 获取K线
func (s *MarketService) Klines(ctx context.Context, accountID int64, symbol, interval string, limit int) ([]*exchange.Kline, error) {
	adapter, err := s.adapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = "1m"
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return adapter.FetchKlines(ctx, exchange.NormalizeSymbol(symbol), interval, limit)
}

// Ticker 获取最新行情
func (s *MarketService) Ticker(ctx context.Context, accountID int64, symbol string) (*exchange.Ticker, error) {
	adapter, err := s.adapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return adapter.FetchTicker(ctx, exchange.NormalizeSymbol(symbol))
}

// Positions 获取交易所侧实时持仓
func (s *MarketService) Positions(ctx context.Context, accountID int64, symbol string) ([]*exchange.Position, error) {
	adapter, err := s.adapter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if symbol != "" {
		symbol = exchange.NormalizeSymbol(symbol)
	}
	return adapter.FetchPositions(ctx, symbol)
}

func (s *MarketService) adapter(ctx context.Context, accountID int64) (exchange.Exchange, error) {
	account, err := s.accountService.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.accountService.Adapter(ctx, &account)
}

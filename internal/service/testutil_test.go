package service

import (
	"context"
	"sync"
	"testing"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/dushixiang/relay/pkg/vault"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.Account{}, &models.Order{}, &models.Position{}, &models.WebhookSignal{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// fakeExchange 测试替身，按脚本返回回执
type fakeExchange struct {
	mu sync.Mutex

	placeCalls  int
	placeResult *exchange.OrderResult
	placeErr    error

	fetchResult *exchange.OrderResult
	fetchErr    error

	cancelErr error
}

var _ exchange.Exchange = (*fakeExchange)(nil)

func (f *fakeExchange) Name() exchange.Type { return exchange.TypeBinance }

func (f *fakeExchange) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	result := *f.placeResult
	if result.ClientOrderID == "" {
		result.ClientOrderID = req.ClientOrderID
	}
	if result.Symbol == "" {
		result.Symbol = req.Symbol
	}
	if result.Amount.IsZero() {
		result.Amount = req.Amount
	}
	if result.Status == exchange.OrderStatusFilled && result.Filled.IsZero() {
		result.Filled = req.Amount
	}
	return &result, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, query exchange.OrderQuery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeExchange) FetchOrder(ctx context.Context, symbol string, query exchange.OrderQuery) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.fetchResult == nil {
		return nil, f.placeErr
	}
	result := *f.fetchResult
	return &result, nil
}

func (f *fakeExchange) FetchPositions(ctx context.Context, symbol string) ([]*exchange.Position, error) {
	return nil, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, side exchange.PositionSide, size decimal.Decimal) (*exchange.OrderResult, error) {
	return f.PlaceOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: symbol, Side: side.Opposite(), Type: exchange.OrderTypeMarket,
		Amount: size, ReduceOnly: true,
	})
}

func (f *fakeExchange) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*exchange.Kline, error) {
	return nil, nil
}

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, Last: decimal.NewFromInt(100)}, nil
}

func (f *fakeExchange) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls
}

type testEnv struct {
	db              *gorm.DB
	fake            *fakeExchange
	conf            *config.Config
	accountService  *AccountService
	orderService    *OrderService
	positionService *PositionService
	webhookService  *WebhookService
	account         *models.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	fake := &fakeExchange{
		placeResult: &exchange.OrderResult{
			ExchangeOrderID: "900001",
			Status:          exchange.OrderStatusFilled,
			AvgPrice:        decimal.NewFromInt(100),
		},
	}
	conf := &config.Config{
		Security: config.SecurityConf{
			SecretKey:     "unit-test-secret",
			WebhookSecret: "webhook-secret",
		},
	}

	v, err := vault.New(conf.Security.SecretKey)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	factory := func(exchangeType models.ExchangeType, creds exchange.Credentials, sandbox bool) (exchange.Exchange, error) {
		return fake, nil
	}

	logger := zap.NewNop()
	accountService := NewAccountService(db, v, factory, logger)
	positionService := NewPositionService(db, logger)
	orderService := NewOrderService(db, accountService, positionService, nil, conf, logger)
	webhookService := NewWebhookService(db, orderService, positionService, nil, conf, logger)

	account, err := accountService.Register(context.Background(), RegisterAccountParams{
		Name:      "unit",
		Exchange:  models.ExchangeBinance,
		APIKey:    "key",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("register account: %v", err)
	}

	return &testEnv{
		db:              db,
		fake:            fake,
		conf:            conf,
		accountService:  accountService,
		orderService:    orderService,
		positionService: positionService,
		webhookService:  webhookService,
		account:         account,
	}
}

func marketBuySpec(symbol, amount string) OrderSpec {
	return OrderSpec{
		Symbol: symbol,
		Side:   models.OrderSideBuy,
		Type:   models.OrderTypeMarket,
		Amount: decimal.RequireFromString(amount),
	}
}

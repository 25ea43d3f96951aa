package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

func TestCreateOrderFilled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "0.5"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.Status != models.OrderStatusFilled {
		t.Errorf("status = %s, want filled", order.Status)
	}
	if !order.FilledAmount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("filled = %s, want 0.5", order.FilledAmount)
	}
	if order.ExchangeOrderID != "900001" {
		t.Errorf("exchange order id = %q", order.ExchangeOrderID)
	}

	// 成交同步开仓
	position, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("position size = %s, want 0.5", position.Size)
	}
	if !position.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("entry price = %s, want 100", position.EntryPrice)
	}
}

func TestCreateOrderIdempotency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "0.5"), "key-1")
	if err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	second, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "0.5"), "key-1")
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("duplicate submission created new order: %s != %s", first.ID, second.ID)
	}
	if env.fake.calls() != 1 {
		t.Errorf("exchange called %d times, want 1", env.fake.calls())
	}
}

func TestIdempotencyKeyReusableAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.placeErr = fmt.Errorf("%w: margin too low", exchange.ErrInsufficientBalance)
	first, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "key-retry")
	if err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if first.Status != models.OrderStatusRejected {
		t.Fatalf("first order status = %s, want rejected", first.Status)
	}

	// 拒单不占用幂等键，恢复后同一键要重新提交
	env.fake.placeErr = nil
	second, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "key-retry")
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("rejected order replayed instead of a fresh submit")
	}
	if second.Status != models.OrderStatusFilled {
		t.Errorf("second order status = %s, want filled", second.Status)
	}
	if env.fake.calls() != 2 {
		t.Errorf("exchange called %d times, want 2", env.fake.calls())
	}

	// 成交后的订单重新占住幂等键
	third, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "key-retry")
	if err != nil {
		t.Fatalf("third Create() error = %v", err)
	}
	if third.ID != second.ID {
		t.Errorf("replay returned %s, want %s", third.ID, second.ID)
	}
	if env.fake.calls() != 2 {
		t.Errorf("exchange called %d times after replay, want 2", env.fake.calls())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec OrderSpec
	}{
		{"bad symbol", OrderSpec{Symbol: "???", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Amount: decimal.NewFromInt(1)}},
		{"bad side", OrderSpec{Symbol: "BTCUSDT", Side: "hold", Type: models.OrderTypeMarket, Amount: decimal.NewFromInt(1)}},
		{"bad type", OrderSpec{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: "trailing", Amount: decimal.NewFromInt(1)}},
		{"zero amount", OrderSpec{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Amount: decimal.Zero}},
		{"negative amount", OrderSpec{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Amount: decimal.NewFromInt(-1)}},
		{"limit without price", OrderSpec{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Amount: decimal.NewFromInt(1)}},
		{"stop without trigger", OrderSpec{Symbol: "BTCUSDT", Side: models.OrderSideBuy, Type: models.OrderTypeStop, Amount: decimal.NewFromInt(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orderService.Create(ctx, env.account.ID, tt.spec, "")
			if !errors.Is(err, xe.ErrInvalidParams) {
				t.Errorf("Create() error = %v, want ErrInvalidParams", err)
			}
		})
	}
	if env.fake.calls() != 0 {
		t.Errorf("exchange called %d times for invalid specs, want 0", env.fake.calls())
	}
}

func TestCreateOrderUnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orderService.Create(context.Background(), 9999, marketBuySpec("BTCUSDT", "1"), "")
	if !errors.Is(err, xe.ErrAccountNotFound) {
		t.Errorf("Create() error = %v, want ErrAccountNotFound", err)
	}
}

func TestCreateOrderTimeoutLeavesSubmitted(t *testing.T) {
	env := newTestEnv(t)
	env.fake.placeErr = fmt.Errorf("%w: connection reset", exchange.ErrTransient)

	order, err := env.orderService.Create(context.Background(), env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.Status != models.OrderStatusSubmitted {
		t.Errorf("status = %s, want submitted (pending reconcile)", order.Status)
	}
	if order.ClientOrderID == "" {
		t.Error("client order id missing, reconcile would have no lookup key")
	}
}

func TestCreateOrderRejectedOnBusinessError(t *testing.T) {
	env := newTestEnv(t)
	env.fake.placeErr = fmt.Errorf("%w: margin too low", exchange.ErrInsufficientBalance)

	order, err := env.orderService.Create(context.Background(), env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v, business rejection should not propagate", err)
	}
	if order.Status != models.OrderStatusRejected {
		t.Errorf("status = %s, want rejected", order.Status)
	}
	if order.ErrorKind != "insufficient_balance" {
		t.Errorf("error kind = %q, want insufficient_balance", order.ErrorKind)
	}
}

func TestCreateOrderAuthErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.fake.placeErr = fmt.Errorf("%w: invalid key", exchange.ErrAuth)

	order, err := env.orderService.Create(context.Background(), env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if !errors.Is(err, xe.ErrExchangeAuth) {
		t.Errorf("Create() error = %v, want ErrExchangeAuth", err)
	}
	if order == nil || order.Status != models.OrderStatusRejected {
		t.Error("order not recorded as rejected")
	}
}

func TestCancelOrderInvalidState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if order.Status != models.OrderStatusFilled {
		t.Fatalf("precondition: order not filled")
	}

	if _, err := env.orderService.Cancel(ctx, order.ID); !errors.Is(err, xe.ErrInvalidState) {
		t.Errorf("Cancel(filled) error = %v, want ErrInvalidState", err)
	}
}

func TestCancelSubmittedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.placeResult.Status = exchange.OrderStatusSubmitted
	env.fake.placeResult.AvgPrice = decimal.Zero

	order, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	canceled, err := env.orderService.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if canceled.Status != models.OrderStatusCanceled {
		t.Errorf("status = %s, want canceled", canceled.Status)
	}
}

func TestReconcileAppliesFills(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.placeResult.Status = exchange.OrderStatusSubmitted
	env.fake.placeResult.AvgPrice = decimal.Zero

	order, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 第一次对账：半数成交
	env.fake.fetchResult = &exchange.OrderResult{
		ExchangeOrderID: "900001",
		Status:          exchange.OrderStatusPartial,
		Filled:          decimal.RequireFromString("0.5"),
		AvgPrice:        decimal.NewFromInt(100),
	}
	if err := env.orderService.Reconcile(ctx, order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusPartial {
		t.Errorf("status = %s, want partial", order.Status)
	}

	position, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("position size after partial = %s, want 0.5", position.Size)
	}

	// 第二次对账：全部成交，只结转增量
	env.fake.fetchResult.Status = exchange.OrderStatusFilled
	env.fake.fetchResult.Filled = decimal.NewFromInt(1)
	if err := env.orderService.Reconcile(ctx, order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusFilled {
		t.Errorf("status = %s, want filled", order.Status)
	}

	position, err = env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("position size after fill = %s, want 1", position.Size)
	}
}

// insertPendingOrder 模拟进程在提交中途退出留下的订单
func insertPendingOrder(t *testing.T, env *testEnv, age time.Duration) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            ulid.Make().String(),
		AccountID:     env.account.ID,
		Symbol:        "BTCUSDT",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Amount:        decimal.NewFromInt(1),
		ClientOrderID: exchange.NewClientOrderID(),
		Status:        models.OrderStatusPending,
		CreatedAt:     time.Now().Add(-age),
	}
	if err := env.db.Create(order).Error; err != nil {
		t.Fatalf("insert pending order: %v", err)
	}
	return order
}

func TestReconcileFreshPendingUntouched(t *testing.T) {
	env := newTestEnv(t)
	order := insertPendingOrder(t, env, 0)

	if err := env.orderService.Reconcile(context.Background(), order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("status = %s, want pending inside grace window", order.Status)
	}
}

func TestReconcileStalePendingRejected(t *testing.T) {
	env := newTestEnv(t)
	order := insertPendingOrder(t, env, 300*time.Second)
	env.fake.fetchErr = fmt.Errorf("%w", exchange.ErrOrderNotFound)

	if err := env.orderService.Reconcile(context.Background(), order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusRejected {
		t.Errorf("status = %s, want rejected", order.Status)
	}
	if order.ErrorKind != "not_found" {
		t.Errorf("error kind = %q, want not_found", order.ErrorKind)
	}
}

func TestReconcileStalePendingDelivered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := insertPendingOrder(t, env, 300*time.Second)

	// 提交其实已经送达，按ClientOrderID能查到成交
	env.fake.fetchResult = &exchange.OrderResult{
		ExchangeOrderID: "900002",
		Status:          exchange.OrderStatusFilled,
		Filled:          decimal.NewFromInt(1),
		AvgPrice:        decimal.NewFromInt(100),
	}
	if err := env.orderService.Reconcile(ctx, order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusFilled {
		t.Errorf("status = %s, want filled", order.Status)
	}
	if order.ExchangeOrderID != "900002" {
		t.Errorf("exchange order id = %q, want 900002", order.ExchangeOrderID)
	}

	position, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("position size = %s, want 1", position.Size)
	}
}

func TestReconcileMissingOrderAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.fake.placeErr = fmt.Errorf("%w: timeout", exchange.ErrTransient)
	order, err := env.orderService.Create(ctx, env.account.ID, marketBuySpec("BTCUSDT", "1"), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	env.fake.placeErr = nil
	env.fake.fetchErr = fmt.Errorf("%w", exchange.ErrOrderNotFound)

	// 宽限期内：保持submitted
	if err := env.orderService.Reconcile(ctx, order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusSubmitted {
		t.Errorf("status inside grace window = %s, want submitted", order.Status)
	}

	// 超过宽限期：判定丢失
	stale := order.CreatedAt.Add(-300 * time.Second)
	if err := env.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("created_at", stale).Error; err != nil {
		t.Fatalf("backdate order: %v", err)
	}
	order.CreatedAt = stale
	if err := env.orderService.Reconcile(ctx, order); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if order.Status != models.OrderStatusRejected {
		t.Errorf("status after grace window = %s, want rejected", order.Status)
	}
	if order.ErrorKind != "not_found" {
		t.Errorf("error kind = %q, want not_found", order.ErrorKind)
	}
}

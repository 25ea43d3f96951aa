package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

func buyOrder(accountID int64, symbol string) *models.Order {
	return &models.Order{
		ID:        ulid.Make().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      models.OrderSideBuy,
		Type:      models.OrderTypeMarket,
	}
}

func sellCloseOrder(accountID int64, symbol string) *models.Order {
	return &models.Order{
		ID:         ulid.Make().String(),
		AccountID:  accountID,
		Symbol:     symbol,
		Side:       models.OrderSideSell,
		Type:       models.OrderTypeMarket,
		ReduceOnly: true,
	}
}

func TestApplyFillWeightedEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	fills := []struct {
		qty   string
		price string
	}{
		{"0.5", "100"},
		{"0.3", "110"},
		{"0.2", "105"},
	}
	for _, fill := range fills {
		err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
			decimal.RequireFromString(fill.qty), decimal.RequireFromString(fill.price), decimal.Zero)
		if err != nil {
			t.Fatalf("ApplyFill(%s@%s) error = %v", fill.qty, fill.price, err)
		}
	}

	position, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("size = %s, want 1", position.Size)
	}
	// (0.5*100 + 0.3*110 + 0.2*105) / 1.0 = 104
	if !position.EntryPrice.Equal(decimal.NewFromInt(104)) {
		t.Errorf("entry price = %s, want 104", position.EntryPrice)
	}
}

func TestApplyCloseRealizedPnl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero)
	if err != nil {
		t.Fatalf("open fill error = %v", err)
	}

	// 部分平仓 0.4@110 手续费0.1：realized = 10*0.4 - 0.1 = 3.9
	err = env.positionService.ApplyFill(ctx, sellCloseOrder(env.account.ID, "BTCUSDT"),
		decimal.RequireFromString("0.4"), decimal.NewFromInt(110), decimal.RequireFromString("0.1"))
	if err != nil {
		t.Fatalf("partial close error = %v", err)
	}

	position, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("FindOpen() error = %v", err)
	}
	if !position.Size.Equal(decimal.RequireFromString("0.6")) {
		t.Errorf("size after partial close = %s, want 0.6", position.Size)
	}
	if !position.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("entry price changed on partial close: %s", position.EntryPrice)
	}
	if !position.RealizedPnl.Equal(decimal.RequireFromString("3.9")) {
		t.Errorf("realized pnl = %s, want 3.9", position.RealizedPnl)
	}

	// 剩余全部平掉 0.6@90：realized += (90-100)*0.6 = -6
	err = env.positionService.ApplyFill(ctx, sellCloseOrder(env.account.ID, "BTCUSDT"),
		decimal.RequireFromString("0.6"), decimal.NewFromInt(90), decimal.Zero)
	if err != nil {
		t.Fatalf("final close error = %v", err)
	}

	if _, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong); err == nil {
		t.Fatal("position still open after full close")
	}

	closed, err := env.positionService.FindByAccount(ctx, env.account.ID, false)
	if err != nil || len(closed) != 1 {
		t.Fatalf("FindByAccount() = (%v, %v)", closed, err)
	}
	if closed[0].IsOpen {
		t.Error("position IsOpen = true after full close")
	}
	if closed[0].ClosedAt == nil {
		t.Error("ClosedAt not set")
	}
	if !closed[0].RealizedPnl.Equal(decimal.RequireFromString("-2.1")) {
		t.Errorf("realized pnl = %s, want -2.1", closed[0].RealizedPnl)
	}
}

func TestShortPositionPnl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sellOpen := &models.Order{
		ID:        ulid.Make().String(),
		AccountID: env.account.ID,
		Symbol:    "ETHUSDT",
		Side:      models.OrderSideSell,
		Type:      models.OrderTypeMarket,
	}
	if err := env.positionService.ApplyFill(ctx, sellOpen,
		decimal.NewFromInt(2), decimal.NewFromInt(2000), decimal.Zero); err != nil {
		t.Fatalf("open fill error = %v", err)
	}

	buyClose := &models.Order{
		ID:         ulid.Make().String(),
		AccountID:  env.account.ID,
		Symbol:     "ETHUSDT",
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeMarket,
		ReduceOnly: true,
	}
	// 空头在价格下跌时盈利：(1900-2000)*2*(-1) = 200
	if err := env.positionService.ApplyFill(ctx, buyClose,
		decimal.NewFromInt(2), decimal.NewFromInt(1900), decimal.Zero); err != nil {
		t.Fatalf("close fill error = %v", err)
	}

	positions, err := env.positionService.FindByAccount(ctx, env.account.ID, false)
	if err != nil || len(positions) != 1 {
		t.Fatalf("FindByAccount() = (%v, %v)", positions, err)
	}
	if !positions[0].RealizedPnl.Equal(decimal.NewFromInt(200)) {
		t.Errorf("realized pnl = %s, want 200", positions[0].RealizedPnl)
	}
}

func TestCloseWithoutPosition(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.positionService.Close(context.Background(), env.account.ID, "BTCUSDT", models.PositionSideLong)
	if !errors.Is(err, xe.ErrPositionNotFound) {
		t.Errorf("Close() error = %v, want ErrPositionNotFound", err)
	}
	if env.fake.calls() != 0 {
		t.Errorf("exchange called %d times without position, want 0", env.fake.calls())
	}
}

func TestClosePosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero); err != nil {
		t.Fatalf("open fill error = %v", err)
	}

	env.fake.placeResult.AvgPrice = decimal.NewFromInt(110)
	order, err := env.positionService.Close(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if order.Status != models.OrderStatusFilled {
		t.Errorf("close order status = %s, want filled", order.Status)
	}
	if !order.ReduceOnly {
		t.Error("close order not reduce-only")
	}
	if order.Side != models.OrderSideSell {
		t.Errorf("close order side = %s, want sell", order.Side)
	}

	if _, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong); err == nil {
		t.Error("position still open after Close()")
	}
}

func TestCloseRetriesAfterRejectedClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero); err != nil {
		t.Fatalf("open fill error = %v", err)
	}

	// 第一次平仓被交易所拒绝，持仓保持打开
	env.fake.placeErr = fmt.Errorf("%w: margin too low", exchange.ErrInsufficientBalance)
	first, err := env.positionService.Close(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if first.Status != models.OrderStatusRejected {
		t.Fatalf("first close status = %s, want rejected", first.Status)
	}
	if _, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong); err != nil {
		t.Fatalf("position gone after rejected close: %v", err)
	}

	// 故障恢复后再平必须重新提交，不能被上一笔拒单的幂等键挡住
	env.fake.placeErr = nil
	second, err := env.positionService.Close(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
	if err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("second close returned the rejected order instead of a fresh submit")
	}
	if second.Status != models.OrderStatusFilled {
		t.Errorf("second close status = %s, want filled", second.Status)
	}
	if env.fake.calls() != 2 {
		t.Errorf("exchange called %d times, want 2", env.fake.calls())
	}
	if _, err := env.positionService.FindOpen(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong); err == nil {
		t.Error("position still open after recovered close")
	}
}

func TestConcurrentCloseOnlyOneOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero); err != nil {
		t.Fatalf("open fill error = %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.positionService.Close(ctx, env.account.ID, "BTCUSDT", models.PositionSideLong)
		}(i)
	}
	wg.Wait()

	var succeeded, notFound int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, xe.ErrPositionNotFound):
			notFound++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || notFound != 1 {
		t.Errorf("succeeded=%d notFound=%d, want 1/1", succeeded, notFound)
	}
	if env.fake.calls() != 1 {
		t.Errorf("exchange called %d times, want exactly 1 close order", env.fake.calls())
	}
}

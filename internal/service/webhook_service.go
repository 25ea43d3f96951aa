package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/metrics"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/repo"
	"github.com/dushixiang/relay/internal/telegram"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/go-orz/orz"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const signaturePrefix = "sha256="

// WebhookService Webhook信号处理服务
// 签名校验 -> 去重 -> 字段校验 -> 分发到订单或持仓服务，全程留痕
type WebhookService struct {
	logger *zap.Logger

	*orz.Service
	*repo.WebhookSignalRepo

	orderService    *OrderService
	positionService *PositionService
	notifier        *telegram.Telegram
	lanes           *laneLock
	conf            *config.Config
}

// NewWebhookService 创建Webhook服务
func NewWebhookService(db *gorm.DB, orderService *OrderService, positionService *PositionService,
	notifier *telegram.Telegram, conf *config.Config, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		logger:            logger,
		Service:           orz.NewService(db),
		WebhookSignalRepo: repo.NewWebhookSignalRepo(db),
		orderService:      orderService,
		positionService:   positionService,
		notifier:          notifier,
		lanes:             newLaneLock(),
		conf:              conf,
	}
}

// VerifySignature 校验请求体HMAC签名，常数时间比较
// 未配置密钥时跳过校验，仅适用于开发环境
func (s *WebhookService) VerifySignature(body []byte, signature string) error {
	secret := s.conf.Security.WebhookSecret
	if secret == "" {
		s.logger.Warn("webhook secret not configured, signature verification skipped")
		return nil
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return s.signatureFailure("missing sha256 prefix")
	}

	given, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return s.signatureFailure("signature is not hex")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), given) {
		return s.signatureFailure("digest mismatch")
	}
	return nil
}

func (s *WebhookService) signatureFailure(reason string) error {
	metrics.WebhookSignatureFailures.Inc()
	s.logger.Warn("webhook signature rejected", zap.String("reason", reason))
	if s.notifier != nil {
		s.notifier.Notify("🚨 收到签名校验失败的Webhook请求")
	}
	return xe.ErrSignatureInvalid
}

// signalFields 从原始载荷解析出的字段
type signalFields struct {
	Action         models.SignalAction
	AccountID      int64
	Symbol         string
	Side           string
	Amount         decimal.Decimal
	OrderType      models.OrderType
	Price          decimal.NullDecimal
	StopPrice      decimal.NullDecimal
	IdempotencyKey string
	Metadata       datatypes.JSON
}

// Process 处理一条信号，重复信号返回首次处理的记录
// restrict不为空时强制动作类型，专用端点使用
func (s *WebhookService) Process(ctx context.Context, body []byte, signature string,
	restrict models.SignalAction) (*models.WebhookSignal, bool, error) {

	if err := s.VerifySignature(body, signature); err != nil {
		return nil, false, err
	}

	fields, parseErr := s.parse(body, restrict)

	dedupKey := fields.IdempotencyKey
	if dedupKey == "" {
		sum := sha256.Sum256(body)
		dedupKey = hex.EncodeToString(sum[:])
	}

	// 同一去重键的请求串行，先到者执行，后到者拿到重放结果
	unlock := s.lanes.Lock("signal:" + dedupKey)
	defer unlock()

	if existing, err := s.WebhookSignalRepo.FindByDedupKey(ctx, dedupKey); err == nil {
		metrics.WebhookSignalsTotal.WithLabelValues(string(existing.Action), string(models.SignalResultDuplicate)).Inc()
		return &existing, true, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	signal := &models.WebhookSignal{
		ID:         ulid.Make().String(),
		DedupKey:   dedupKey,
		AccountID:  fields.AccountID,
		Action:     fields.Action,
		Symbol:     fields.Symbol,
		Payload:    datatypes.JSON(body),
		Metadata:   fields.Metadata,
		ReceivedAt: time.Now(),
	}

	if parseErr != nil {
		return s.finish(ctx, signal, models.SignalResultRejected, parseErr.Error(), parseErr)
	}

	switch fields.Action {
	case models.SignalActionOpen:
		return s.dispatchOpen(ctx, signal, fields, dedupKey)
	case models.SignalActionClose:
		return s.dispatchClose(ctx, signal, fields)
	default:
		err := fmt.Errorf("%w: 未知的action %s", xe.ErrInvalidParams, fields.Action)
		return s.finish(ctx, signal, models.SignalResultRejected, err.Error(), err)
	}
}

func (s *WebhookService) dispatchOpen(ctx context.Context, signal *models.WebhookSignal,
	fields signalFields, dedupKey string) (*models.WebhookSignal, bool, error) {

	spec := OrderSpec{
		Symbol:    fields.Symbol,
		Side:      models.OrderSide(fields.Side),
		Type:      fields.OrderType,
		Amount:    fields.Amount,
		Price:     fields.Price,
		StopPrice: fields.StopPrice,
		SignalID:  signal.ID,
	}
	order, err := s.orderService.Create(ctx, fields.AccountID, spec, dedupKey)
	if order != nil {
		signal.OrderID = order.ID
	}
	if err != nil {
		return s.finish(ctx, signal, models.SignalResultRejected, err.Error(), err)
	}
	return s.finish(ctx, signal, models.SignalResultAccepted, "", nil)
}

func (s *WebhookService) dispatchClose(ctx context.Context, signal *models.WebhookSignal,
	fields signalFields) (*models.WebhookSignal, bool, error) {

	order, err := s.positionService.Close(ctx, fields.AccountID, fields.Symbol, models.PositionSide(fields.Side))
	if order != nil {
		signal.OrderID = order.ID
	}
	if err != nil {
		return s.finish(ctx, signal, models.SignalResultRejected, err.Error(), err)
	}
	return s.finish(ctx, signal, models.SignalResultAccepted, "", nil)
}

// finish 落地信号记录并返回
func (s *WebhookService) finish(ctx context.Context, signal *models.WebhookSignal,
	result models.SignalResult, reason string, cause error) (*models.WebhookSignal, bool, error) {

	signal.Result = result
	signal.Reason = reason
	if err := s.WebhookSignalRepo.Create(ctx, signal); err != nil {
		// 唯一索引冲突说明并发请求抢先处理了同一信号
		if existing, ferr := s.WebhookSignalRepo.FindByDedupKey(ctx, signal.DedupKey); ferr == nil {
			return &existing, true, nil
		}
		return signal, false, err
	}
	metrics.WebhookSignalsTotal.WithLabelValues(string(signal.Action), string(result)).Inc()
	return signal, false, cause
}

// parse 解析并校验载荷字段，错误信息指明具体字段
func (s *WebhookService) parse(body []byte, restrict models.SignalAction) (signalFields, error) {
	var fields signalFields

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fields, fmt.Errorf("%w: 请求体不是合法JSON", xe.ErrInvalidParams)
	}

	fields.Action = models.SignalAction(cast.ToString(payload["action"]))
	if restrict != "" {
		fields.Action = restrict
	}
	if fields.Action != models.SignalActionOpen && fields.Action != models.SignalActionClose {
		return fields, fmt.Errorf("%w: action必须为open或close", xe.ErrInvalidParams)
	}

	accountID, err := cast.ToInt64E(payload["account_id"])
	if err != nil || accountID <= 0 {
		return fields, fmt.Errorf("%w: account_id缺失或不合法", xe.ErrInvalidParams)
	}
	fields.AccountID = accountID

	fields.Symbol = cast.ToString(payload["symbol"])
	if fields.Symbol == "" {
		return fields, fmt.Errorf("%w: symbol缺失", xe.ErrInvalidParams)
	}

	fields.Side = cast.ToString(payload["side"])
	fields.IdempotencyKey = cast.ToString(payload["idempotency_key"])

	if metadata, ok := payload["metadata"]; ok {
		if raw, err := json.Marshal(metadata); err == nil {
			fields.Metadata = raw
		}
	}

	if fields.Action == models.SignalActionClose {
		if !models.PositionSide(fields.Side).Valid() {
			return fields, fmt.Errorf("%w: 平仓side必须为long或short", xe.ErrInvalidParams)
		}
		return fields, nil
	}

	if !models.OrderSide(fields.Side).Valid() {
		return fields, fmt.Errorf("%w: side必须为buy或sell", xe.ErrInvalidParams)
	}

	amount, err := parseDecimal(payload["amount"])
	if err != nil || !amount.IsPositive() {
		return fields, fmt.Errorf("%w: amount缺失或不为正数", xe.ErrInvalidParams)
	}
	fields.Amount = amount

	fields.OrderType = models.OrderTypeMarket
	if orderType := cast.ToString(payload["order_type"]); orderType != "" {
		fields.OrderType = models.OrderType(orderType)
		if !fields.OrderType.Valid() {
			return fields, fmt.Errorf("%w: 不支持的order_type %s", xe.ErrInvalidParams, orderType)
		}
	}

	if raw, ok := payload["price"]; ok {
		price, err := parseDecimal(raw)
		if err != nil || !price.IsPositive() {
			return fields, fmt.Errorf("%w: price不合法", xe.ErrInvalidParams)
		}
		fields.Price = decimal.NewNullDecimal(price)
	}
	if raw, ok := payload["stop_price"]; ok {
		stopPrice, err := parseDecimal(raw)
		if err != nil || !stopPrice.IsPositive() {
			return fields, fmt.Errorf("%w: stop_price不合法", xe.ErrInvalidParams)
		}
		fields.StopPrice = decimal.NewNullDecimal(stopPrice)
	}

	if fields.OrderType.RequiresPrice() && !fields.Price.Valid {
		return fields, fmt.Errorf("%w: %s订单必须携带price", xe.ErrInvalidParams, fields.OrderType)
	}
	if fields.OrderType.RequiresStopPrice() && !fields.StopPrice.Valid {
		return fields, fmt.Errorf("%w: %s订单必须携带stop_price", xe.ErrInvalidParams, fields.OrderType)
	}
	return fields, nil
}

// parseDecimal 数字和字符串都接受
func parseDecimal(v any) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, errors.New("missing value")
	}
	return decimal.NewFromString(cast.ToString(v))
}

package service

import (
	"context"
	"errors"
	"time"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/repo"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/dushixiang/relay/pkg/exchange"
	"github.com/dushixiang/relay/pkg/vault"
	"github.com/go-orz/orz"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdapterFactory 按账户凭证创建交易所适配器，测试时可替换
type AdapterFactory func(exchangeType models.ExchangeType, creds exchange.Credentials, sandbox bool) (exchange.Exchange, error)

// NewAdapterFactory 默认的适配器工厂
func NewAdapterFactory(conf *config.Config) AdapterFactory {
	opts := exchange.Options{
		ProxyURL: conf.Exchange.ProxyURL,
		Timeout:  time.Duration(conf.Exchange.Timeout()) * time.Second,
	}
	return func(exchangeType models.ExchangeType, creds exchange.Credentials, sandbox bool) (exchange.Exchange, error) {
		return exchange.New(exchange.Type(exchangeType), creds, sandbox, opts)
	}
}

// AccountService 账户管理服务，负责凭证的加解密与生命周期
type AccountService struct {
	logger *zap.Logger

	*orz.Service
	*repo.AccountRepo

	orderRepo    *repo.OrderRepo
	positionRepo *repo.PositionRepo
	vault        *vault.Vault
	factory      AdapterFactory
}

// NewAccountService 创建账户服务
func NewAccountService(db *gorm.DB, v *vault.Vault, factory AdapterFactory, logger *zap.Logger) *AccountService {
	return &AccountService{
		logger:       logger,
		Service:      orz.NewService(db),
		AccountRepo:  repo.NewAccountRepo(db),
		orderRepo:    repo.NewOrderRepo(db),
		positionRepo: repo.NewPositionRepo(db),
		vault:        v,
		factory:      factory,
	}
}

// RegisterAccountParams 注册账户参数
type RegisterAccountParams struct {
	Name       string
	Exchange   models.ExchangeType
	APIKey     string
	SecretKey  string
	Passphrase string
	Sandbox    *bool
}

// Register 注册账户，凭证入库前加密
func (s *AccountService) Register(ctx context.Context, params RegisterAccountParams) (*models.Account, error) {
	if !params.Exchange.Valid() {
		return nil, xe.ErrInvalidParams
	}
	if params.Exchange == models.ExchangeOKX && params.Passphrase == "" {
		return nil, xe.ErrPassphraseNeeded
	}

	account := &models.Account{
		Name:     params.Name,
		Exchange: params.Exchange,
		Sandbox:  true,
	}
	if params.Sandbox != nil {
		account.Sandbox = *params.Sandbox
	}

	var err error
	if account.APIKey, err = s.vault.Encrypt(params.APIKey); err != nil {
		return nil, err
	}
	if account.SecretKey, err = s.vault.Encrypt(params.SecretKey); err != nil {
		return nil, err
	}
	if account.Passphrase, err = s.vault.Encrypt(params.Passphrase); err != nil {
		return nil, err
	}

	if err := s.AccountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	s.logger.Info("account registered",
		zap.Int64("account_id", account.ID),
		zap.String("exchange", string(account.Exchange)),
		zap.Bool("sandbox", account.Sandbox))
	return account, nil
}

// Get 按ID查找账户
func (s *AccountService) Get(ctx context.Context, id int64) (models.Account, error) {
	account, err := s.AccountRepo.FindById(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return account, xe.ErrAccountNotFound
		}
		return account, err
	}
	return account, nil
}

// List 返回全部账户
func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	return s.AccountRepo.FindAllOrderByCreatedAt(ctx)
}

// Update 更新账户名称或沙盒开关
func (s *AccountService) Update(ctx context.Context, id int64, name *string, sandbox *bool) (models.Account, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return account, err
	}
	if name != nil {
		account.Name = *name
	}
	if sandbox != nil {
		account.Sandbox = *sandbox
	}
	if err := s.AccountRepo.Save(ctx, &account); err != nil {
		return account, err
	}
	return account, nil
}

// RotateCredentials 轮换凭证，旧密文直接覆盖
func (s *AccountService) RotateCredentials(ctx context.Context, id int64, apiKey, secretKey, passphrase string) error {
	account, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if account.RequiresPassphrase() && passphrase == "" {
		return xe.ErrPassphraseNeeded
	}

	if account.APIKey, err = s.vault.Encrypt(apiKey); err != nil {
		return err
	}
	if account.SecretKey, err = s.vault.Encrypt(secretKey); err != nil {
		return err
	}
	if account.Passphrase, err = s.vault.Encrypt(passphrase); err != nil {
		return err
	}

	if err := s.AccountRepo.Save(ctx, &account); err != nil {
		return err
	}
	s.logger.Info("account credentials rotated", zap.Int64("account_id", id))
	return nil
}

// Delete 删除账户，仍有活跃订单或持仓时拒绝
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	activeOrders, err := s.orderRepo.CountActiveByAccount(ctx, id)
	if err != nil {
		return err
	}
	openPositions, err := s.positionRepo.CountOpenByAccount(ctx, id)
	if err != nil {
		return err
	}
	if activeOrders > 0 || openPositions > 0 {
		return xe.ErrAccountInUse
	}

	if err := s.AccountRepo.DeleteById(ctx, id); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.Int64("account_id", id))
	return nil
}

// Credentials 解密账户凭证，密文损坏时返回完整性错误并告警
func (s *AccountService) Credentials(ctx context.Context, account *models.Account) (exchange.Credentials, error) {
	var creds exchange.Credentials
	var err error
	if creds.APIKey, err = s.vault.Decrypt(account.APIKey); err != nil {
		return creds, s.integrityError(account.ID, err)
	}
	if creds.Secret, err = s.vault.Decrypt(account.SecretKey); err != nil {
		return creds, s.integrityError(account.ID, err)
	}
	if creds.Passphrase, err = s.vault.Decrypt(account.Passphrase); err != nil {
		return creds, s.integrityError(account.ID, err)
	}
	return creds, nil
}

func (s *AccountService) integrityError(accountID int64, err error) error {
	if errors.Is(err, vault.ErrIntegrity) {
		// 密文被篡改或加密密钥变更，需要人工介入
		s.logger.Error("credential integrity check failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		return xe.ErrIntegrity
	}
	return err
}

// Adapter 为账户创建交易所适配器
func (s *AccountService) Adapter(ctx context.Context, account *models.Account) (exchange.Exchange, error) {
	creds, err := s.Credentials(ctx, account)
	if err != nil {
		return nil, err
	}
	return s.factory(account.Exchange, creds, account.Sandbox)
}

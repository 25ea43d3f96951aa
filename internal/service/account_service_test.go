package service

import (
	"context"
	"errors"
	"testing"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/xe"
	"github.com/shopspring/decimal"
)

func TestRegisterEncryptsCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stored, err := env.accountService.Get(ctx, env.account.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.APIKey == "key" || stored.SecretKey == "secret" {
		t.Fatal("credentials stored in plaintext")
	}

	creds, err := env.accountService.Credentials(ctx, &stored)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if creds.APIKey != "key" || creds.Secret != "secret" {
		t.Errorf("decrypted credentials = %+v", creds)
	}
}

func TestRegisterOKXRequiresPassphrase(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.accountService.Register(context.Background(), RegisterAccountParams{
		Name:      "okx",
		Exchange:  models.ExchangeOKX,
		APIKey:    "key",
		SecretKey: "secret",
	})
	if !errors.Is(err, xe.ErrPassphraseNeeded) {
		t.Errorf("Register() error = %v, want ErrPassphraseNeeded", err)
	}
}

func TestRegisterInvalidExchange(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.accountService.Register(context.Background(), RegisterAccountParams{
		Name:     "bad",
		Exchange: "kraken",
	})
	if !errors.Is(err, xe.ErrInvalidParams) {
		t.Errorf("Register() error = %v, want ErrInvalidParams", err)
	}
}

func TestRotateCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.accountService.RotateCredentials(ctx, env.account.ID, "key-2", "secret-2", ""); err != nil {
		t.Fatalf("RotateCredentials() error = %v", err)
	}

	stored, err := env.accountService.Get(ctx, env.account.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	creds, err := env.accountService.Credentials(ctx, &stored)
	if err != nil {
		t.Fatalf("Credentials() error = %v", err)
	}
	if creds.APIKey != "key-2" || creds.Secret != "secret-2" {
		t.Errorf("rotated credentials = %+v", creds)
	}
}

func TestDeleteAccountWithOpenPositionRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.positionService.ApplyFill(ctx, buyOrder(env.account.ID, "BTCUSDT"),
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.Zero)
	if err != nil {
		t.Fatalf("ApplyFill() error = %v", err)
	}

	if err := env.accountService.Delete(ctx, env.account.ID); !errors.Is(err, xe.ErrAccountInUse) {
		t.Errorf("Delete() error = %v, want ErrAccountInUse", err)
	}
	if _, err := env.accountService.Get(ctx, env.account.ID); err != nil {
		t.Errorf("account gone after refused delete: %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.accountService.Delete(ctx, env.account.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.accountService.Get(ctx, env.account.ID); !errors.Is(err, xe.ErrAccountNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrAccountNotFound", err)
	}
}

func TestCredentialsIntegrityFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.db.Model(&models.Account{}).
		Where("id = ?", env.account.ID).
		Update("api_key", "bm90LWEtcmVhbC1jaXBoZXJ0ZXh0").Error; err != nil {
		t.Fatalf("corrupt ciphertext: %v", err)
	}

	stored, err := env.accountService.Get(ctx, env.account.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := env.accountService.Credentials(ctx, &stored); !errors.Is(err, xe.ErrIntegrity) {
		t.Errorf("Credentials() error = %v, want ErrIntegrity", err)
	}
}

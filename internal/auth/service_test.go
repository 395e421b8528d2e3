package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func newWalletService(t *testing.T, ttlSeconds int64) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeWallet,
		JWT: JWTOptions{
			Secret:    "test-secret",
			Issuer:    "feelan",
			AccessTTL: ttlSeconds,
		},
	})
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	return svc
}

func signMessage(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	// 钱包端按惯例输出 27/28 的 v 值。
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestLoginRecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	svc := newWalletService(t, 0)

	message := "Sign in to Feelan"
	pair, err := svc.Login(context.Background(), LoginRequest{
		Address:   address,
		Message:   message,
		Signature: signMessage(t, key, message),
	})
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("令牌不符: %+v", pair)
	}
}

func TestLoginRejectsMismatchedAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	svc := newWalletService(t, 0)

	message := "Sign in to Feelan"
	_, err = svc.Login(context.Background(), LoginRequest{
		Address:   "0x0000000000000000000000000000000000000001",
		Message:   message,
		Signature: signMessage(t, key, message),
	})
	if err != ErrInvalidSignature {
		t.Fatalf("期望 ErrInvalidSignature, 实际 %v", err)
	}
}

func TestLoginRejectsTamperedMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	svc := newWalletService(t, 0)

	signature := signMessage(t, key, "original message")
	_, err = svc.Login(context.Background(), LoginRequest{
		Address:   address,
		Message:   "tampered message",
		Signature: signature,
	})
	if err != ErrInvalidSignature {
		t.Fatalf("期望 ErrInvalidSignature, 实际 %v", err)
	}
}

func TestLoginMalformedSignatureIsVerificationError(t *testing.T) {
	svc := newWalletService(t, 0)

	cases := []string{
		"0xdeadbeef",
		"not-hex-at-all",
		"",
	}
	for _, signature := range cases {
		_, err := svc.Login(context.Background(), LoginRequest{
			Address:   "0x0000000000000000000000000000000000000001",
			Message:   "m",
			Signature: signature,
		})
		if !errors.Is(err, ErrSignatureVerification) {
			t.Fatalf("签名 %q 期望 ErrSignatureVerification, 实际 %v", signature, err)
		}
		if errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("恢复失败不应归为签名不匹配: %v", err)
		}
	}
}

func TestLoginDisabledMode(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	if _, err := svc.Login(context.Background(), LoginRequest{}); err != ErrDisabled {
		t.Fatalf("期望 ErrDisabled, 实际 %v", err)
	}
}

func TestAuthenticateRequestRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("生成密钥失败: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	svc := newWalletService(t, 0)

	message := "Sign in to Feelan"
	pair, err := svc.Login(context.Background(), LoginRequest{
		Address:   address,
		Message:   message,
		Signature: signMessage(t, key, message),
	})
	if err != nil {
		t.Fatalf("登录失败: %v", err)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("验证失败: %v", err)
	}
	// 主体地址统一转小写存储。
	if subject.Address != strings.ToLower(address) {
		t.Fatalf("主体地址不符: %s", subject.Address)
	}
}

func TestAuthenticateRequestRejectsGarbage(t *testing.T) {
	svc := newWalletService(t, 0)

	cases := []string{
		"",
		"Bearer",
		"Bearer ",
		"Token abc",
		"Bearer not.a.token",
	}
	for _, header := range cases {
		if _, err := svc.AuthenticateRequest(context.Background(), header); err == nil {
			t.Fatalf("授权头 %q 不应通过验证", header)
		}
	}
}

func TestAuthenticateRequestRejectsForgedSignature(t *testing.T) {
	svc := newWalletService(t, 0)
	other := newWalletService2(t)

	token, err := other.jwt.Generate("0xabc")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+token); err != ErrInvalidToken {
		t.Fatalf("异密钥令牌应被拒绝, 实际 %v", err)
	}
}

func newWalletService2(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeWallet,
		JWT:  JWTOptions{Secret: "other-secret"},
	})
	if err != nil {
		t.Fatalf("构造服务失败: %v", err)
	}
	return svc
}

func TestVerifyExpiredToken(t *testing.T) {
	manager := &jwtManager{secret: []byte("test-secret")}
	claims := jwtClaims{
		TokenType: tokenTypeAccess,
		Subject:   "0xabc",
		ExpiresAt: 1,
	}
	token, err := manager.sign(claims)
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if _, err := manager.Verify(token); err != ErrInvalidToken {
		t.Fatalf("过期令牌应被拒绝, 实际 %v", err)
	}
}

func TestVerifyLongLivedToken(t *testing.T) {
	manager := &jwtManager{secret: []byte("test-secret")}
	token, err := manager.Generate("0xABC")
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}
	claims, err := manager.Verify(token)
	if err != nil {
		t.Fatalf("验证失败: %v", err)
	}
	if claims.ExpiresAt != 0 {
		t.Fatalf("零 TTL 令牌不应携带过期声明: %d", claims.ExpiresAt)
	}
	if claims.Subject != "0xabc" {
		t.Fatalf("主体应转小写: %s", claims.Subject)
	}
}

package clob

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"polytrader/internal/domain"
)

// Well-known throwaway key, never funded.
const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testOrderSigner(t *testing.T) *OrderSigner {
	t.Helper()
	s, err := NewOrderSigner(testKeyHex, 137)
	if err != nil {
		t.Fatalf("NewOrderSigner: %v", err)
	}
	return s
}

func TestNewOrderSignerBadKey(t *testing.T) {
	_, err := NewOrderSigner("0xnothex", 137)
	var signErr *domain.SigningError
	if !errors.As(err, &signErr) {
		t.Errorf("err = %v, want SigningError", err)
	}
}

func TestBuildOrderAmounts(t *testing.T) {
	s := testOrderSigner(t)
	intent := domain.OrderIntent{
		TokenID: "123456",
		Side:    domain.SideBuy,
		Price:   decimal.RequireFromString("0.42"),
		Size:    decimal.RequireFromString("100"),
	}

	buy, err := s.BuildOrder(intent, "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	// BUY: maker pays 42 USDC, takes 100 shares, both in 10^6 units.
	if buy.MakerAmount != "42000000" {
		t.Errorf("maker amount = %s, want 42000000", buy.MakerAmount)
	}
	if buy.TakerAmount != "100000000" {
		t.Errorf("taker amount = %s, want 100000000", buy.TakerAmount)
	}

	intent.Side = domain.SideSell
	sell, err := s.BuildOrder(intent, "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("BuildOrder: %v", err)
	}
	if sell.MakerAmount != "100000000" || sell.TakerAmount != "42000000" {
		t.Errorf("sell amounts = %s/%s, want 100000000/42000000", sell.MakerAmount, sell.TakerAmount)
	}

	if buy.Signer != s.Address().Hex() {
		t.Errorf("signer = %s, want wallet %s", buy.Signer, s.Address().Hex())
	}
	if buy.Nonce != "0" || buy.FeeRateBps != "0" {
		t.Errorf("nonce/fee = %s/%s, want 0/0", buy.Nonce, buy.FeeRateBps)
	}
	if buy.Expiration != "0" {
		t.Errorf("expiration = %s, want 0 for non-GTD", buy.Expiration)
	}
}

func TestBuildOrderTruncatesSubMicro(t *testing.T) {
	s := testOrderSigner(t)
	intent := domain.OrderIntent{
		TokenID: "1",
		Side:    domain.SideBuy,
		Price:   decimal.RequireFromString("0.333333"),
		Size:    decimal.RequireFromString("3"),
	}
	o, err := s.BuildOrder(intent, "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	// 0.333333 * 3 = 0.999999 exactly; nothing to truncate here, but the
	// result must be an integer string either way.
	if o.MakerAmount != "999999" {
		t.Errorf("maker amount = %s, want 999999", o.MakerAmount)
	}
}

func TestSignOrderDeterministic(t *testing.T) {
	s := testOrderSigner(t)
	intent := domain.OrderIntent{
		TokenID: "123456",
		Side:    domain.SideBuy,
		Price:   decimal.RequireFromString("0.42"),
		Size:    decimal.RequireFromString("100"),
	}
	o, err := s.BuildOrder(intent, "0x0000000000000000000000000000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	o.Salt = 42 // fixed so both signatures cover identical bytes

	if err := s.SignOrder(o, false); err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	first := o.Signature
	if len(first) != 2+65*2 {
		t.Fatalf("signature length = %d, want 0x + 65 bytes hex", len(first))
	}

	if err := s.SignOrder(o, false); err != nil {
		t.Fatal(err)
	}
	if o.Signature != first {
		t.Error("identical order signed twice gave different signatures")
	}

	// The neg-risk exchange has its own domain separator.
	if err := s.SignOrder(o, true); err != nil {
		t.Fatal(err)
	}
	if o.Signature == first {
		t.Error("neg-risk domain produced the same signature as the standard one")
	}
}

func TestSignOrderRejectsBadTokenID(t *testing.T) {
	s := testOrderSigner(t)
	o := &SignedOrder{
		TokenID:     "0xdeadbeef", // must be a decimal integer
		MakerAmount: "1",
		TakerAmount: "1",
		Maker:       "0x0000000000000000000000000000000000000001",
		Signer:      s.Address().Hex(),
		Taker:       zeroAddress.Hex(),
		Side:        domain.SideBuy,
		Expiration:  "0",
		Nonce:       "0",
		FeeRateBps:  "0",
	}
	err := s.SignOrder(o, false)
	var signErr *domain.SigningError
	if !errors.As(err, &signErr) {
		t.Errorf("err = %v, want SigningError", err)
	}
}

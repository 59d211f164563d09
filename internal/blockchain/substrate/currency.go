package substrate

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// Currency variant tags as encoded by the parachain runtime.
const (
	currencyNative  = 0
	currencyXCM     = 1
	currencyStellar = 2

	stellarNative    = 0
	stellarAlphaNum4 = 1
)

// CurrencyID mirrors the runtime's currency enum: the native token, an
// XCM-registered foreign asset, or a Stellar-wrapped asset.
type CurrencyID struct {
	Variant       uint8
	XCMIndex      uint8
	StellarCode   [4]byte
	StellarIssuer [32]byte
}

// XCMCurrency identifies a foreign asset by its XCM registry index.
func XCMCurrency(index uint8) CurrencyID {
	return CurrencyID{Variant: currencyXCM, XCMIndex: index}
}

// StellarCurrency identifies a wrapped Stellar alphanum4 asset.
func StellarCurrency(code [4]byte, issuer [32]byte) CurrencyID {
	return CurrencyID{Variant: currencyStellar, StellarCode: code, StellarIssuer: issuer}
}

// Encode implements scale encoding for the runtime enum layout.
func (c CurrencyID) Encode(encoder scale.Encoder) error {
	if err := encoder.PushByte(c.Variant); err != nil {
		return err
	}
	switch c.Variant {
	case currencyNative:
		return nil
	case currencyXCM:
		return encoder.PushByte(c.XCMIndex)
	case currencyStellar:
		if err := encoder.PushByte(stellarAlphaNum4); err != nil {
			return err
		}
		if err := encoder.Encode(c.StellarCode); err != nil {
			return err
		}
		return encoder.Encode(c.StellarIssuer)
	default:
		return fmt.Errorf("unknown currency variant %d", c.Variant)
	}
}

// Decode implements scale decoding for the runtime enum layout.
func (c *CurrencyID) Decode(decoder scale.Decoder) error {
	variant, err := decoder.ReadOneByte()
	if err != nil {
		return err
	}
	c.Variant = variant
	switch variant {
	case currencyNative:
		return nil
	case currencyXCM:
		idx, err := decoder.ReadOneByte()
		if err != nil {
			return err
		}
		c.XCMIndex = idx
		return nil
	case currencyStellar:
		inner, err := decoder.ReadOneByte()
		if err != nil {
			return err
		}
		switch inner {
		case stellarNative:
			return nil
		case stellarAlphaNum4:
			if err := decoder.Decode(&c.StellarCode); err != nil {
				return err
			}
			return decoder.Decode(&c.StellarIssuer)
		default:
			return fmt.Errorf("unknown stellar asset variant %d", inner)
		}
	default:
		return fmt.Errorf("unknown currency variant %d", variant)
	}
}

package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"

	"BPSGateway/internal/models"
)

const rippleAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

// AddressValidator returns a check for deposit addresses of the supported
// currencies. Currencies it does not know are accepted as-is.
func AddressValidator(btcNet *chaincfg.Params) func(models.Currency, string) error {
	if btcNet == nil {
		btcNet = &chaincfg.MainNetParams
	}
	return func(c models.Currency, address string) error {
		switch c {
		case models.BTC:
			return ValidateBTCAddress(address, btcNet)
		case models.TRX:
			return ValidateTRXAddress(address)
		case models.XRP:
			return ValidateXRPAddress(address)
		}
		return nil
	}
}

func ValidateBTCAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("btc address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("btc address %q is not for %s", address, params.Name)
	}
	return nil
}

func ValidateTRXAddress(address string) error {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return fmt.Errorf("trx address %q: %w", address, err)
	}
	if version != tronVersion || len(payload) != 20 {
		return fmt.Errorf("trx address %q: not a tron account", address)
	}
	return nil
}

// ValidateXRPAddress checks the classic address shape only; the checksum uses
// the ripple alphabet and is left to the node.
func ValidateXRPAddress(address string) error {
	if len(address) < 25 || len(address) > 35 || !strings.HasPrefix(address, "r") {
		return fmt.Errorf("xrp address %q: bad length or prefix", address)
	}
	for _, r := range address {
		if !strings.ContainsRune(rippleAlphabet, r) {
			return errors.New("xrp address contains characters outside the ripple alphabet")
		}
	}
	return nil
}

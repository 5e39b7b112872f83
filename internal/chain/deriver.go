package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/sha3"
)

// tronVersion is the leading byte of every mainnet TRON address.
const tronVersion = 0x41

// AddressDeriver derives deposit addresses from an account-level extended
// public key. Child i of the external chain (…/0/i) becomes address i.
type AddressDeriver struct {
	XPub    string
	Network *chaincfg.Params
}

func (d AddressDeriver) child(index uint32) (*hdkeychain.ExtendedKey, error) {
	if d.XPub == "" {
		return nil, errors.New("xpub is not configured")
	}
	key, err := hdkeychain.NewKeyFromString(d.XPub)
	if err != nil {
		return nil, err
	}
	if key.IsPrivate() {
		return nil, errors.New("refusing to derive from a private extended key")
	}
	external, err := key.Derive(0)
	if err != nil {
		return nil, err
	}
	return external.Derive(index)
}

// DeriveBTC returns the native segwit (P2WPKH) address of child index.
func (d AddressDeriver) DeriveBTC(index uint32) (string, error) {
	child, err := d.child(index)
	if err != nil {
		return "", err
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}
	params := d.Network
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey.SerializeCompressed()), params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// DeriveTRX returns the base58check TRON address of child index.
func (d AddressDeriver) DeriveTRX(index uint32) (string, error) {
	child, err := d.child(index)
	if err != nil {
		return "", err
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", err
	}
	return tronAddress(pubKey.SerializeUncompressed()), nil
}

func tronAddress(uncompressed []byte) string {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(uncompressed[1:])
	sum := h.Sum(nil)
	return base58.CheckEncode(sum[len(sum)-20:], tronVersion)
}

// NetworkParams resolves a bitcoin network name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", name)
}

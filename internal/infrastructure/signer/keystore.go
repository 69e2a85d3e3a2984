package signer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters, go-ethereum standard-strength equivalents
const (
	scryptN = 1 << 17
	scryptR = 8
	scryptP = 1
)

// keyFile is the on-disk format of one encrypted wallet key
type keyFile struct {
	Address    string `json:"address"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
}

// EncryptKey writes a private key to dir encrypted with AES-GCM under a
// scrypt-derived key.
func EncryptKey(dir, passphrase string, key *ecdsa.PrivateKey) (string, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	ciphertext := gcm.Seal(nil, nonce, crypto.FromECDSA(key), nil)

	kf := keyFile{
		Address:    address,
		Ciphertext: hex.EncodeToString(ciphertext),
		Nonce:      hex.EncodeToString(nonce),
		Salt:       hex.EncodeToString(salt),
		N:          scryptN,
		R:          scryptR,
		P:          scryptP,
	}
	raw, err := json.Marshal(kf)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, keyFileName(address))
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// DecryptKey loads and decrypts the key file for a wallet address
func DecryptKey(dir, passphrase, address string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Join(dir, keyFileName(address)))
	if err != nil {
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, fmt.Errorf("malformed key file: %w", err)
	}

	salt, err := hex.DecodeString(kf.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(kf.Nonce)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hex.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, err
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, kf.N, kf.R, kf.P, 32)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("could not decrypt key: wrong passphrase or corrupted file")
	}

	return crypto.ToECDSA(plaintext)
}

func keyFileName(address string) string {
	return strings.ToLower(strings.TrimPrefix(address, "0x")) + ".json"
}

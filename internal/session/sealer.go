package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/gonglijing/iotconsole/internal/models"
)

const nonceSize = 24

// ErrOpen 密文无法解密（密钥变更或数据损坏）
var ErrOpen = errors.New("session: cannot open sealed tokens")

// Sealer 使用 NaCl secretbox 加解密令牌
type Sealer struct {
	key [32]byte
}

// NewSealer 以 sha256(secret) 作为密钥
func NewSealer(secret []byte) *Sealer {
	return &Sealer{key: sha256.Sum256(secret)}
}

// Seal 加密，输出 nonce||box
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open 解密
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return plain, nil
}

// SealTokens 令牌对 -> base64 密文
func (s *Sealer) SealTokens(pair models.TokenPair) (string, error) {
	plain, err := json.Marshal(pair)
	if err != nil {
		return "", err
	}
	sealed, err := s.Seal(plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenTokens base64 密文 -> 令牌对
func (s *Sealer) OpenTokens(text string) (models.TokenPair, error) {
	var pair models.TokenPair
	sealed, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return pair, ErrOpen
	}
	plain, err := s.Open(sealed)
	if err != nil {
		return pair, err
	}
	if err := json.Unmarshal(plain, &pair); err != nil {
		return pair, fmt.Errorf("decode tokens: %w", err)
	}
	return pair, nil
}

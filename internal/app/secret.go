package app

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gonglijing/iotconsole/internal/logger"
)

// secretKeyFile 未配置密钥时生成的密钥文件
const secretKeyFile = "config/session_secret.key"

// loadOrGenerateSecretKey 会话密钥：配置优先，其次读取密钥文件，都没有时生成并保存。
// 同一密钥用于 cookie 签名和令牌加密，重启后旧会话仍可解密。
func loadOrGenerateSecretKey(configured, keyFile string) ([]byte, error) {
	if configured != "" {
		h := sha256.Sum256([]byte(configured))
		return h[:], nil
	}
	if keyFile == "" {
		keyFile = secretKeyFile
	}

	if data, err := os.ReadFile(keyFile); err == nil && len(data) >= 32 {
		h := sha256.Sum256(data)
		return h[:], nil
	}

	if err := os.MkdirAll(filepath.Dir(keyFile), 0755); err != nil {
		logger.Warn("Failed to create config directory", "error", err)
	}

	newKey := make([]byte, 32)
	if _, err := rand.Read(newKey); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}

	if err := os.WriteFile(keyFile, newKey, 0600); err != nil {
		logger.Warn("Failed to save session secret key, sessions will not survive restart", "error", err)
	} else {
		logger.Info("Generated new session secret key", "file", keyFile)
	}

	h := sha256.Sum256(newKey)
	return h[:], nil
}

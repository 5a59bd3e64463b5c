package push

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/networkserver/internal/logger"
)

// VAPIDKeys: пара ключей Web Push. Наружу (в /api/config/push) уходит только PublicKey.
type VAPIDKeys struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// valid: публичный ключ это несжатая точка P-256 (65 байт, 0x04...), приватный 32 байта,
// оба в base64url без паддинга, как их выдаёт webpush.GenerateVAPIDKeys.
func (k *VAPIDKeys) valid() bool {
	pub, err := base64.RawURLEncoding.DecodeString(k.PublicKey)
	if err != nil || len(pub) != 65 || pub[0] != 0x04 {
		return false
	}
	priv, err := base64.RawURLEncoding.DecodeString(k.PrivateKey)
	return err == nil && len(priv) == 32
}

// KeyFile хранит VAPID-пару в файле и создаёт её при первом обращении. Повреждённый или
// неполный файл перезаписывается новой парой: подписки браузеров на старый ключ всё равно
// невосстановимы.
type KeyFile struct {
	path string

	mu   sync.Mutex
	keys *VAPIDKeys
}

func NewKeyFile(path string) *KeyFile {
	if path == "" {
		path = "config/vapid.json"
	}
	return &KeyFile{path: path}
}

// Keys возвращает пару, читая или создавая файл только при первом успешном вызове.
func (f *KeyFile) Keys() (*VAPIDKeys, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys != nil {
		return f.keys, nil
	}
	keys, err := f.read()
	if err == nil && keys.valid() {
		f.keys = keys
		return keys, nil
	}
	if err != nil && !os.IsNotExist(err) {
		logger.Warnf("push: VAPID-ключи в %s не прочитаны: %v, генерируем новые", f.path, err)
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("push: generate vapid keys: %w", err)
	}
	keys = &VAPIDKeys{PublicKey: pub, PrivateKey: priv}
	if err := f.write(keys); err != nil {
		// Ключ работает до рестарта; после рестарта клиентам придётся переподписаться.
		logger.Errorf("push: VAPID-ключи не сохранены в %s: %v", f.path, err)
	} else {
		logger.Infof("push: VAPID-ключи сгенерированы и сохранены в %s", f.path)
	}
	f.keys = keys
	return keys, nil
}

// PublicKey нужен обработчику /api/config/push.
func (f *KeyFile) PublicKey() (string, error) {
	keys, err := f.Keys()
	if err != nil {
		return "", err
	}
	return keys.PublicKey, nil
}

func (f *KeyFile) read() (*VAPIDKeys, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var keys VAPIDKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return &keys, nil
}

// write пишет через временный файл и rename, чтобы упавший процесс не оставил половину JSON.
func (f *KeyFile) write(keys *VAPIDKeys) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".vapid-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

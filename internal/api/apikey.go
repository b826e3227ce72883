package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stakewatch/stakewatch/internal/logging"
)

// keyPrefixLen covers "sw_" plus eight hex characters, enough to look
// a key up before the bcrypt comparison.
const keyPrefixLen = 11

// APIKey is one issued key. The plain key is never stored, only its
// bcrypt hash and a lookup prefix.
type APIKey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	KeyHash    string    `json:"key_hash"`
	KeyPrefix  string    `json:"key_prefix"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	Enabled    bool      `json:"enabled"`
}

// APIKeyManager issues and validates keys, persisted to a JSON file
// when a path is configured.
type APIKeyManager struct {
	keys     map[string]*APIKey // keyed by ID
	prefixes map[string]string  // prefix -> ID
	mu       sync.RWMutex
	filePath string
}

// NewAPIKeyManager creates a key manager. An empty path keeps keys in
// memory only.
func NewAPIKeyManager(filePath string) (*APIKeyManager, error) {
	m := &APIKeyManager{
		keys:     make(map[string]*APIKey),
		prefixes: make(map[string]string),
		filePath: filePath,
	}
	if err := m.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load API keys: %w", err)
	}
	return m, nil
}

func (m *APIKeyManager) load() error {
	if m.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}

	var keys []*APIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		m.keys[key.ID] = key
		m.prefixes[key.KeyPrefix] = key.ID
	}
	return nil
}

func (m *APIKeyManager) save() error {
	if m.filePath == "" {
		return nil
	}

	m.mu.RLock()
	keys := make([]*APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.filePath, data, 0600)
}

// CreateKey issues a new key. The plain key is returned exactly once.
func (m *APIKeyManager) CreateKey(name string, expiresInDays int) (*APIKey, string, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	plainKey := "sw_" + hex.EncodeToString(keyBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key: %w", err)
	}

	idBytes := make([]byte, 8)
	rand.Read(idBytes)
	id := hex.EncodeToString(idBytes)

	key := &APIKey{
		ID:        id,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: plainKey[:keyPrefixLen],
		CreatedAt: time.Now(),
		Enabled:   true,
	}
	if expiresInDays > 0 {
		key.ExpiresAt = time.Now().AddDate(0, 0, expiresInDays)
	}

	m.mu.Lock()
	m.keys[id] = key
	m.prefixes[key.KeyPrefix] = id
	m.mu.Unlock()

	if err := m.save(); err != nil {
		logging.Warn("failed to save API keys", logging.Err(err), logging.Component("api"))
	}

	logging.Audit(logging.AuditEvent{
		Operation: "api_key_created",
		Target:    id,
		Result:    "success",
		Details:   name,
	})
	return key, plainKey, nil
}

// ValidateKey reports whether the key is known, enabled, unexpired,
// and matches its stored hash.
func (m *APIKeyManager) ValidateKey(key string) bool {
	if len(key) < keyPrefixLen {
		return false
	}

	m.mu.RLock()
	id, exists := m.prefixes[key[:keyPrefixLen]]
	var apiKey *APIKey
	if exists {
		apiKey = m.keys[id]
	}
	m.mu.RUnlock()

	if apiKey == nil || !apiKey.Enabled {
		return false
	}
	if !apiKey.ExpiresAt.IsZero() && time.Now().After(apiKey.ExpiresAt) {
		return false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(key)); err != nil {
		return false
	}

	// Record last use without blocking validation
	go func() {
		m.mu.Lock()
		if k, ok := m.keys[id]; ok {
			k.LastUsedAt = time.Now()
		}
		m.mu.Unlock()
		m.save()
	}()
	return true
}

// ListKeys returns all keys, hashes included but never plain keys.
func (m *APIKeyManager) ListKeys() []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		keys = append(keys, key)
	}
	return keys
}

// RevokeKey disables a key without deleting its record
func (m *APIKeyManager) RevokeKey(id string) error {
	m.mu.Lock()
	key, exists := m.keys[id]
	if exists {
		key.Enabled = false
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("key not found: %s", id)
	}
	if err := m.save(); err != nil {
		return err
	}

	logging.Audit(logging.AuditEvent{
		Operation: "api_key_revoked",
		Target:    id,
		Result:    "success",
	})
	return nil
}

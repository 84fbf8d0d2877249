//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFilePath is $CAREWATCH_SECRETS_FILE, or secrets.json in the data
// directory.
func secretsFilePath() string {
	if p := os.Getenv("CAREWATCH_SECRETS_FILE"); p != "" {
		return p
	}
	return filepath.Join(defaultDataDir(), "secrets.json")
}

// secrets maps "service/account" to its value.
type secrets map[string]string

func readSecrets(path string) (secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return s, nil
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets(secretsFilePath())
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := s[service+"/"+account]
	if !ok {
		return nil, fmt.Errorf("secret %s/%s not found", service, account)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretsFilePath()
	s, err := readSecrets(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if s == nil {
		s = make(secrets)
	}
	s[service+"/"+account] = value

	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

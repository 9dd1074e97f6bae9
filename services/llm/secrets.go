// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// resolveAPIKey returns the first non-empty key from explicit, the
// environment variable, or the mounted secret file.
func resolveAPIKey(explicit, envVar, secretPath string) (string, error) {
	if k := strings.TrimSpace(explicit); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(os.Getenv(envVar)); k != "" {
		return k, nil
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		if k := strings.TrimSpace(string(content)); k != "" {
			slog.Info("Read API key from mounted secret", "path", secretPath)
			return k, nil
		}
	}
	return "", fmt.Errorf("%s is missing", envVar)
}

// sealedKey keeps an API key encrypted in memory between requests.
type sealedKey struct {
	enclave *memguard.Enclave
}

func sealKey(key string) *sealedKey {
	return &sealedKey{enclave: memguard.NewEnclave([]byte(key))}
}

// use decrypts the key into a locked buffer for the duration of fn.
func (s *sealedKey) use(fn func(key string) error) error {
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(string(buf.Bytes()))
}

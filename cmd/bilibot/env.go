package main

import (
	"fmt"
	"os"
	"strings"
)

// loadEnvFile reads a .env file and exports its entries. Variables the
// process already carries win over the file.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		eq := strings.Index(line, "=")
		if eq < 0 {
			return fmt.Errorf("invalid line in %s: %q", path, line)
		}

		key := strings.TrimSpace(line[:eq])
		if key == "" {
			return fmt.Errorf("empty key in %s: %q", path, line)
		}

		value := parseEnvValue(strings.TrimSpace(line[eq+1:]))

		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}

	return nil
}

// parseEnvValue strips quoting and inline comments from a raw .env
// value. Double quotes expand \n, single quotes are literal.
func parseEnvValue(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' {
		if end := strings.Index(raw[1:], `"`); end >= 0 {
			return strings.ReplaceAll(raw[1:1+end], `\n`, "\n")
		}
	}
	if len(raw) >= 2 && raw[0] == '\'' {
		if end := strings.Index(raw[1:], "'"); end >= 0 {
			return raw[1 : 1+end]
		}
	}
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw
}

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lorawan-server/field-tester-server/internal/auth"
	"github.com/lorawan-server/field-tester-server/internal/config"
	"github.com/lorawan-server/field-tester-server/pkg/crypto"
	"github.com/lorawan-server/field-tester-server/pkg/fieldtester"
)

func runHashKey(w io.Writer, key string) error {
	hash, err := crypto.HashPassword(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Fprintln(w, hash)
	return nil
}

func runGenerateKey(w io.Writer) error {
	key, err := crypto.GenerateRandomString(32)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	hash, err := crypto.HashPassword(key)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Fprintf(w, "key:  %s\nhash: %s\n", key, hash)
	return nil
}

func runIssueToken(w io.Writer, cfg *config.Config, subject string) error {
	token, err := auth.NewJWTManager(&cfg.JWT).GenerateToken(subject)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, token)
	return nil
}

// runDecodeResponse decodes "<port>:<hex>", e.g. "1:017878b48001".
func runDecodeResponse(w io.Writer, arg string) error {
	portStr, hexStr, ok := strings.Cut(arg, ":")
	if !ok {
		return fmt.Errorf("expected <port>:<hex>, got %q", arg)
	}

	port, err := strconv.ParseUint(portStr, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	buf, err := hex.DecodeString(strings.ReplaceAll(hexStr, " ", ""))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	resp, err := fieldtester.DecodeResponse(uint8(port), buf)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

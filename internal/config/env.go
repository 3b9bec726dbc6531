// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/pipemgr/internal/log"
)

// ParseString returns the value of key, or def when unset or empty.
func ParseString(key, def string) string {
	return fromEnv(key, def, parseString)
}

// ParseInt returns key parsed as an int, or def when unset or malformed.
func ParseInt(key string, def int) int {
	return fromEnv(key, def, strconv.Atoi)
}

// ParseDuration returns key parsed with time.ParseDuration, or def.
func ParseDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, time.ParseDuration)
}

// ParseFloat returns key parsed as a float64, or def.
func ParseFloat(key string, def float64) float64 {
	return fromEnv(key, def, parseFloat)
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, def bool) bool {
	return fromEnv(key, def, parseBool)
}

func parseString(v string) (string, error) { return v, nil }

func parseFloat(v string) (float64, error) { return strconv.ParseFloat(v, 64) }

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// parseFields splits a whitespace separated argument list.
func parseFields(v string) ([]string, error) {
	if strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("empty list")
	}
	return strings.Fields(v), nil
}

// fromEnv resolves key through parse. Unset, empty and malformed values
// all yield def; only the malformed case is logged above debug.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	raw := os.Getenv(key)
	if raw == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("env override absent")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		logger.Warn().Err(err).
			Str("key", key).
			Str("value", raw).
			Interface("default", def).
			Msg("ignoring malformed env override")
		return def
	}
	logger.Debug().Str("key", key).Interface("value", v).Str("source", "env").Msg("env override applied")
	return v
}

// override replaces *dst with the value of EnvPrefix+name when it parses and
// records the key as consumed.
func override[T any](l *Loader, name string, dst *T, parse func(string) (T, error)) {
	key := EnvPrefix + name
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = fromEnv(key, *dst, parse)
}

package config

import (
	"fmt"
	"iter"
	"os"
)

// KeyInfo is one settable key as shown by `config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	// FromEnv is set when EnvVar currently overrides the file value.
	FromEnv bool
}

// publicSpecs yields every key that may be shown or written to the file.
func publicSpecs() iter.Seq[keySpec] {
	return func(yield func(keySpec) bool) {
		for _, s := range specs {
			if !s.secret && !yield(s) {
				return
			}
		}
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ShowAll lists the effective value of every non-secret key in cfg.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for s := range publicSpecs() {
		_, fromEnv := os.LookupEnv(s.env)
		out = append(out, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   fmt.Sprint(s.extract(cfg)),
			FromEnv: fromEnv,
		})
	}
	return out
}

// ValidKeys names the keys SetKey accepts.
func ValidKeys() []string {
	var keys []string
	for s := range publicSpecs() {
		keys = append(keys, s.key)
	}
	return keys
}

// SetKey parses value as the key's type and persists it to the config file.
// Secrets are rejected; they only come from the environment.
func SetKey(key, value string) error {
	return setKey(newFileBackend(FilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return fmt.Errorf("%s is a secret and can only be set through %s", key, s.env)
	}

	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n, isInt := v.(int); isInt && s.typ == kInt {
		return b.SetInt(key, n)
	}
	return b.SetString(key, value)
}

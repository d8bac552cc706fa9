package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MarcinKonowalczyk/bfc/codegen"
	"github.com/MarcinKonowalczyk/bfc/compiler"
)

// Filename is the config file looked up next to a script.
const Filename = "bfc.yaml"

type Config struct {
	StackSize int    `yaml:"stack_size"`
	Backend   string `yaml:"backend"`
	EOF       string `yaml:"eof"`
	Debug     bool   `yaml:"debug"`
}

func Default() Config {
	return Config{
		StackSize: codegen.DefaultStackSize,
		Backend:   "native",
		EOF:       codegen.EOFZero.String(),
	}
}

// Load reads a config file on top of the defaults. Unknown keys are an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("config: empty path")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadIfExists is Load, except that a missing file yields the defaults.
func LoadIfExists(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c Config) validate() error {
	if c.StackSize <= 0 {
		return fmt.Errorf("stack_size must be positive, got %d", c.StackSize)
	}
	if _, err := codegen.ParseEOFPolicy(c.EOF); err != nil {
		return err
	}
	return nil
}

// Options turns the config into compiler options for the named script.
func (c Config) Options(identifier string) (compiler.Options, error) {
	if err := c.validate(); err != nil {
		return compiler.Options{}, err
	}
	eof, _ := codegen.ParseEOFPolicy(c.EOF)
	return compiler.Options{
		Backend: strings.TrimSpace(c.Backend),
		Codegen: codegen.Options{
			Identifier: identifier,
			StackSize:  c.StackSize,
			EOF:        eof,
		},
	}, nil
}

package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configFilename = "config.json"

// extensions accepted for the container entrypoint
var extensions = []string{".bf", ".b", ".brainfuck"}

type root struct {
	// Path is the path to the rootfs
	Path string `json:"path"`
}

type process struct {
	// Args is the command to run
	Args []string `json:"args"`
	// Env is the environment variables to set
	Env []string `json:"env"`
}

// subset of the OCI runtime spec the shim cares about
type ociSpec struct {
	Root    root    `json:"root"`
	Process process `json:"process"`
}

type Config struct {
	Root       string
	Entrypoint string
	Path       []string
}

// ReadConfig reads the OCI bundle config at path and checks that the
// entrypoint is a single brainfuck script present in the rootfs.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(path, configFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", configFilename)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configFilename, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s", configFilename)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d", len(spec.Process.Args))
	}
	arg0 := spec.Process.Args[0]

	if !hasScriptExtension(arg0) {
		return nil, fmt.Errorf("entry point (%s) is not a brainfuck script (%s)", arg0, strings.Join(extensions, ", "))
	}

	rootPath := spec.Root.Path
	if !filepath.IsAbs(rootPath) {
		rootPath = filepath.Join(path, rootPath)
	}

	script := filepath.Join(rootPath, arg0)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, err)
		}
		return nil, fmt.Errorf("checking script %s: %w", arg0, err)
	}

	var searchPath []string
	for _, env := range spec.Process.Env {
		if v, ok := strings.CutPrefix(env, "PATH="); ok {
			searchPath = strings.Split(v, ":")
			break
		}
	}

	return &Config{
		Root:       rootPath,
		Entrypoint: arg0,
		Path:       searchPath,
	}, nil
}

func hasScriptExtension(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

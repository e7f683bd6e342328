package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(name string) (string, string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// reads a json5 configuration file, `name` should come with a file
// extension. a sibling `<name>.local.<ext>` file, if present, is merged
// on top of the base file so tokens and per-machine overrides can stay
// out of version control.
func ReadConfig[T any](name string) (T, error) {
	var out T

	dirname := filepath.Dir(name)
	prefix, ext := splitExt(filepath.Base(name))

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	found := false
	if len(base) > 0 {
		err = json5.Unmarshal(base, &out)
		if err != nil {
			return out, err
		}
		found = true
	}

	localPath := filepath.Join(dirname, fmt.Sprintf("%s.local.%s", prefix, ext))
	local, err := os.ReadFile(localPath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(local) > 0 {
		var override T
		err = json5.Unmarshal(local, &override)
		if err != nil {
			return out, err
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadConfig but it searches upward from the working directory until the
// filesystem root for a configuration file matching the name.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	root, err := filepath.Abs("/")
	if err != nil {
		return zero, err
	}
	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for current != root {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if os.IsNotExist(err) {
			current = filepath.Join(current, "..")
			continue
		}
		if err != nil {
			return zero, err
		}
		return config, nil
	}

	return zero, os.ErrNotExist
}

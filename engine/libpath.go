package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// runtimeLibName returns the ONNX Runtime shared library name and a glob
// matching versioned variants for the current platform.
func runtimeLibName(system string) (string, string, error) {
	switch system {
	case "windows":
		return "onnxruntime.dll", "onnxruntime*.dll", nil
	case "darwin":
		return "libonnxruntime.dylib", "libonnxruntime*.dylib", nil
	case "linux":
		return "libonnxruntime.so", "libonnxruntime.so*", nil
	default:
		return "", "", fmt.Errorf("operating system %s not supported", system)
	}
}

// FindRuntimeLib locates the ONNX Runtime shared library. A configured path
// wins; otherwise it tries, in order:
// - the directory containing the executable, and its .dist and lib children
// - the current working directory, and its .dist, lib and third_party children
// - ascending parent directories of both (up to a limit)
func FindRuntimeLib(configured string) (string, error) {
	if configured != "" {
		if fileExists(configured) {
			return configured, nil
		}
		return "", fmt.Errorf("onnxruntime library %q not found", configured)
	}
	name, pattern, err := runtimeLibName(runtime.GOOS)
	if err != nil {
		return "", err
	}

	var tried []string
	check := func(dir string) string {
		if dir == "" {
			return ""
		}
		tried = append(tried, dir)
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
		return globFirst(dir, pattern)
	}

	var roots []string
	if exePath, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exePath))
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}

	for _, root := range roots {
		for _, dir := range []string{root, filepath.Join(root, ".dist"), filepath.Join(root, "lib"), filepath.Join(root, "third_party")} {
			if p := check(dir); p != "" {
				return p, nil
			}
		}
	}

	seen := make(map[string]bool)
	for _, root := range roots {
		cur := filepath.Dir(root)
		for i := 0; i < 10; i++ {
			if seen[cur] {
				break
			}
			seen[cur] = true
			if p := check(cur); p != "" {
				return p, nil
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}

	return "", fmt.Errorf("onnxruntime library %q not found, tried:\n  - %s", name, strings.Join(tried, "\n  - "))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func globFirst(dir, pat string) string {
	ms, err := filepath.Glob(filepath.Join(dir, pat))
	if err != nil || len(ms) == 0 {
		return ""
	}
	return ms[0]
}

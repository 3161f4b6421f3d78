package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codexec/codebot/internal/logger"
)

// stdlibModules are import roots that never warrant a pip install. The list
// mirrors what a coding model commonly imports; it only needs to be good
// enough to avoid pointless installs, not exhaustive.
var stdlibModules = map[string]struct{}{
	"os": {}, "sys": {}, "re": {}, "tempfile": {}, "subprocess": {},
	"traceback": {}, "io": {}, "json": {}, "datetime": {}, "collections": {},
	"math": {}, "random": {}, "argparse": {}, "logging": {}, "unittest": {},
	"itertools": {}, "functools": {}, "pathlib": {}, "shutil": {}, "time": {},
	"threading": {}, "multiprocessing": {}, "socket": {}, "http": {},
	"urllib": {}, "csv": {}, "xml": {}, "zipfile": {}, "tarfile": {},
	"gzip": {}, "bz2": {}, "lzma": {}, "hashlib": {}, "hmac": {}, "ssl": {},
	"asyncio": {}, "concurrent": {}, "contextlib": {}, "dataclasses": {},
	"enum": {}, "glob": {}, "inspect": {}, "pickle": {}, "pprint": {},
	"queue": {}, "signal": {}, "statistics": {}, "struct": {}, "string": {},
	"typing": {}, "uuid": {}, "warnings": {}, "weakref": {}, "webbrowser": {},
	"zoneinfo": {}, "abc": {}, "base64": {}, "bisect": {}, "copy": {},
	"decimal": {}, "fractions": {}, "heapq": {}, "operator": {}, "platform": {},
	"secrets": {}, "textwrap": {}, "traceback2": {}, "types": {},
}

// Deps scans import statements and returns the root module names that are
// not in the standard-library allowlist, sorted and deduplicated.
func Deps(source string) []string {
	seen := map[string]struct{}{}
	for _, line := range strings.Split(source, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "import" && fields[0] != "from" {
			continue
		}
		name := fields[1]
		// "import a.b" and "import a as b" both root at "a";
		// "import a,b" roots at "a" (good enough for a best-effort scan).
		name = strings.FieldsFunc(name, func(r rune) bool { return r == '.' || r == ',' })[0]
		if name == "" || !isIdent(name) {
			continue
		}
		if _, std := stdlibModules[name]; std {
			continue
		}
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > 0
}

// EnsureEnv creates the virtualenv if it is configured and missing. Errors
// are returned so the caller can warn and fall back to the base interpreter.
func (r *Runner) EnsureEnv(ctx context.Context) error {
	if r.venvDir == "" {
		return nil
	}
	venvPython := filepath.Join(r.venvDir, "bin", "python")
	if _, err := os.Stat(venvPython); err == nil {
		logger.L.Debug("virtualenv found", "dir", r.venvDir)
		return nil
	}
	logger.L.Info("creating virtualenv", "dir", r.venvDir)
	cmd := exec.CommandContext(ctx, r.bin, "-m", "venv", r.venvDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &EnvError{Output: string(out), Err: err}
	}
	return nil
}

// EnvError wraps a failed virtualenv bootstrap with the tool output.
type EnvError struct {
	Output string
	Err    error
}

func (e *EnvError) Error() string { return "virtualenv setup failed: " + e.Err.Error() }
func (e *EnvError) Unwrap() error { return e.Err }

// installDeps pip-installs detected third-party imports into the venv.
// Best effort: failures are logged and execution proceeds regardless, the
// interpreter will produce its own ImportError if something is missing.
func (r *Runner) installDeps(ctx context.Context, deps []string) {
	pip := filepath.Join(r.venvDir, "bin", "pip")
	if _, err := os.Stat(pip); err != nil {
		logger.L.Warn("auto_install enabled but venv pip not found; skipping", "pip", pip)
		return
	}
	for _, dep := range deps {
		logger.L.Info("installing dependency", "package", dep)
		cmd := exec.CommandContext(ctx, pip, "install", dep)
		if out, err := cmd.CombinedOutput(); err != nil {
			logger.L.Warn("pip install failed", "package", dep, "error", err, "output", string(out))
		}
	}
}

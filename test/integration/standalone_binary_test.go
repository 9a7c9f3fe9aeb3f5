package integration

import (
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func buildBinary(t *testing.T) string {
	t.Helper()
	goModPathBytes, err := exec.Command("go", "env", "GOMOD").Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	goModPath := strings.TrimSpace(string(goModPathBytes))
	if goModPath == "" {
		t.Fatalf("go env GOMOD returned empty")
	}
	repoRoot := filepath.Dir(goModPath)

	outside := t.TempDir()
	binaryPath := filepath.Join(outside, "kektech")

	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/kektech")
	build.Dir = repoRoot
	build.Env = os.Environ()
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, string(out))
	}
	return binaryPath
}

// isolatedCommand runs the binary outside the repo with no config file or
// KEKTECH_* variables leaking in from the developer's environment.
func isolatedCommand(binary string, args ...string) *exec.Cmd {
	cmd := exec.Command(binary, args...)
	cmd.Dir = filepath.Dir(binary)
	env := []string{"XDG_CONFIG_HOME=" + filepath.Dir(binary), "HOME=" + filepath.Dir(binary)}
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "PATH=") {
			env = append(env, kv)
		}
	}
	cmd.Env = env
	return cmd
}

func TestStandaloneBinaryCommands(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary exec test is unix-focused")
	}
	binary := buildBinary(t)

	if out, err := isolatedCommand(binary, "version").CombinedOutput(); err != nil {
		t.Fatalf("version failed: %v\n%s", err, string(out))
	} else if !strings.HasPrefix(string(out), "kektech ") {
		t.Fatalf("unexpected version output: %s", string(out))
	}

	if out, err := isolatedCommand(binary, "--help").CombinedOutput(); err != nil {
		t.Fatalf("--help failed: %v\n%s", err, string(out))
	}

	// Without a shared store there is nothing to administer.
	out, err := isolatedCommand(binary, "quota", "list").CombinedOutput()
	if err == nil {
		t.Fatalf("quota list should fail with the local backend:\n%s", string(out))
	}
	if !strings.Contains(string(out), "no shared quota store configured") {
		t.Fatalf("unexpected quota list output: %s", string(out))
	}
}

func TestStandaloneBinaryFetch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary exec test is unix-focused")
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nfts":[{"token_id":"7"}]}`))
	}))
	defer upstream.Close()

	binary := buildBinary(t)
	out, err := isolatedCommand(binary, "fetch", upstream.URL, "--array-field", "nfts", "--output-format", "json").CombinedOutput()
	if err != nil {
		t.Fatalf("fetch failed: %v\n%s", err, string(out))
	}
	if !strings.Contains(string(out), `"status": "success"`) {
		t.Fatalf("expected a successful fetch result, got:\n%s", string(out))
	}
}

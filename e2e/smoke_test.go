//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/oliverhazley/MindMend/internal/auth"
)

const repoRootRel = ".." // relative to ./e2e

const jwtSecret = "e2e-secret"

func TestSmoke_ServerAndGateway(t *testing.T) {
	repoRoot := repoRootPath(t)

	sqlitePath := startSQLite(t)

	serverBin := buildBinary(t, repoRoot, "./cmd/hrv-server", "hrv-server")
	gatewayBin := buildBinary(t, repoRoot, "./cmd/hrv-gateway", "hrv-gateway")

	serverAddr := pickFreeAddr(t)
	server := startProcess(t, serverBin,
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+serverAddr,
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+sqlitePath,
		"JWT_SECRET="+jwtSecret,
	)

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+serverAddr+"/healthz", 5*time.Second)

	token, err := auth.NewTokens(jwtSecret, time.Hour).Issue("42")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	// Direct upload.
	status, _ := doJSON(t, client, http.MethodPost, "http://"+serverAddr+"/api/hrv", token, `{"user_id":42,"hrv_value":41.5}`)
	if status != http.StatusCreated {
		t.Fatalf("POST /api/hrv status=%d want=%d", status, http.StatusCreated)
	}
	status, _ = doJSON(t, client, http.MethodPost, "http://"+serverAddr+"/api/hrv", "", `{"user_id":42,"hrv_value":41.5}`)
	if status != http.StatusUnauthorized {
		t.Fatalf("POST without token status=%d want=%d", status, http.StatusUnauthorized)
	}

	// Simulated sensor through the gateway.
	gatewayAddr := pickFreeAddr(t)
	gateway := startProcess(t, gatewayBin,
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+gatewayAddr,
		"SENSOR_MODE=simulated",
		"SIM_INTERVAL=20ms",
		"AUTO_CONNECT=true",
		"USER_ID=42",
		"API_BASE_URL=http://"+serverAddr+"/api",
		"API_TOKEN="+token,
		"WARMUP=200ms",
		"UPLOAD_INTERVAL=1h",
	)
	waitForOK(t, client, "http://"+gatewayAddr+"/healthz", 5*time.Second)

	deadline := time.Now().Add(10 * time.Second)
	for {
		_, body := doJSON(t, client, http.MethodGet, "http://"+gatewayAddr+"/api/session", "", "")
		var snap struct {
			State string   `json:"state"`
			RMSSD *float64 `json:"rmssd"`
		}
		_ = json.Unmarshal(body, &snap)
		if snap.State == "connected" && snap.RMSSD != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("gateway never became ready: %s", body)
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Final upload happens on shutdown.
	stopProcess(t, gateway)

	status, body := doJSON(t, client, http.MethodGet, "http://"+serverAddr+"/api/hrv?user_id=42", token, "")
	if status != http.StatusOK {
		t.Fatalf("GET /api/hrv status=%d want=%d", status, http.StatusOK)
	}
	var readings []map[string]any
	if err := json.Unmarshal(body, &readings); err != nil {
		t.Fatalf("decode readings: %v", err)
	}
	if len(readings) < 2 {
		t.Fatalf("readings=%d want>=2 (direct + gateway): %s", len(readings), body)
	}

	stopProcess(t, server)
}

func doJSON(t *testing.T, client *http.Client, method, url, token, body string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func startSQLite(t *testing.T) string {
	t.Helper()

	hostDir := t.TempDir()
	dbPath := filepath.Join(hostDir, "mindmend.db")

	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:      "nouchka/sqlite3:latest",
		WorkingDir: "/data",
		Entrypoint: []string{"sh", "-c"},
		Cmd: []string{
			"sqlite3 /data/mindmend.db \"PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;\" && " +
				"chmod 666 /data/mindmend.db && " +
				"echo 'sqlite ready' && " +
				"tail -f /dev/null",
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, hostDir+":/data")
		},
		WaitingFor: wait.ForLog("sqlite ready").WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start sqlite container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("sqlite db file not created: %v", err)
	}
	return dbPath
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}
	return repo
}

func buildBinary(t *testing.T, repoRoot, pkg, name string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), name)
	build := exec.Command("go", "build", "-o", out, pkg)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, string(b))
	}
	return out
}

func startProcess(t *testing.T, bin string, env ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", bin, err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return cmd
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("not healthy after %s: %s", timeout, url)
}

func stopProcess(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("process did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("process exited non-zero: %v", err)
			}
			t.Fatalf("wait error: %v", err)
		}
	}
}

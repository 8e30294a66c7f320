package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"classchat/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 18080
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Auth.JWTSecret = "integration-secret-0123456789"
	cfg.Database.DatabasePath = filepath.Join(t.TempDir(), "classchat.db")
	return cfg
}

// FUNCTIONAL VALIDATION TEST: Application construction validation
func TestApplication_ConstructorValidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg)
	if err == nil {
		t.Error("Constructor should reject invalid configuration")
	}
	if application != nil {
		t.Error("Constructor should not return application with invalid config")
	}
}

func TestApplication_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Chat.Backend = backend

			application, err := NewApplication(cfg)
			if err != nil {
				t.Fatalf("NewApplication: %v", err)
			}
			defer application.Stop(context.Background())

			if err := application.Roster().EnrollStudent(context.Background(), "s1", "c1", true); err != nil {
				t.Errorf("Roster seeding failed: %v", err)
			}

			w := httptest.NewRecorder()
			application.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != http.StatusOK {
				t.Fatalf("health = %d: %s", w.Code, w.Body.String())
			}
			var health struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(w.Body).Decode(&health); err != nil || health.Status != "healthy" {
				t.Errorf("health body = %+v, %v", health, err)
			}
		})
	}
}

// TECHNICAL VALIDATION TEST: Run serves until cancelled and shuts down cleanly
func TestApplication_RunAndShutdown(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	// Validate rejects port 0; pick an ephemeral port after construction
	application.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- application.Run(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := application.Addr(); addr != "127.0.0.1:0" {
			resp, err = http.Get("http://" + addr + "/health")
			if err == nil {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if resp == nil {
		t.Fatalf("server never became reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// Stop is idempotent
	if err := application.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestApplication_RunListenFailure(t *testing.T) {
	application, err := NewApplication(testConfig(t))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	defer application.Stop(context.Background())
	application.httpServer.Addr = "127.0.0.1:-5"

	if err := application.Run(context.Background()); err == nil {
		t.Error("Run should fail on an unusable address")
	}
}

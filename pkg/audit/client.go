// Package audit implements the optional Firestore mirror (spec.md section
// 11/12): a real-time, disableable copy of peer/intent/deal state changes
// for operator dashboards. It sits strictly downstream of the Store — the
// Store remains sole authority over coordination state — and every write
// here is best-effort, logged on failure rather than propagated.
package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
)

// Client wraps the Firestore client with MESH-specific collection helpers.
type Client struct {
	app       *firebase.App
	firestore *gcpfirestore.Client
	projectID string
	logger    *log.Logger
	enabled   bool
	mu        sync.RWMutex
}

// Config configures a Client.
type Config struct {
	// ProjectID is the Firebase/GCP project ID.
	ProjectID string
	// Enabled controls whether Firestore operations are actually performed.
	// If false, every Client method is a no-op, which is the right default
	// for a local/dev deployment.
	Enabled bool
	Logger  *log.Logger
}

// DefaultConfig reads Config from environment variables.
func DefaultConfig() Config {
	return Config{
		ProjectID: os.Getenv("MESH_AUDIT_FIREBASE_PROJECT_ID"),
		Enabled:   getEnvBool("MESH_AUDIT_ENABLED", false),
		Logger:    log.New(os.Stderr, "[audit] ", log.LstdFlags),
	}
}

// NewClient constructs a Client. Credentials are resolved the standard
// Firebase Admin SDK way (GOOGLE_APPLICATION_CREDENTIALS or application
// default credentials) — MESH does not thread a credentials-file path
// through Config, so no direct dependency on the Google API client-option
// package is needed here.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[audit] ", log.LstdFlags)
	}

	c := &Client{projectID: cfg.ProjectID, logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("audit mirror disabled - running in no-op mode")
		return c, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("audit: MESH_AUDIT_FIREBASE_PROJECT_ID is required when enabled")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("audit: initialize firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: create firestore client: %w", err)
	}

	c.app = app
	c.firestore = fsClient
	cfg.Logger.Printf("audit mirror enabled for project %s", cfg.ProjectID)
	return c, nil
}

// IsEnabled reports whether the mirror performs real Firestore writes.
func (c *Client) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Close releases the underlying Firestore client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firestore != nil {
		return c.firestore.Close()
	}
	return nil
}

// Health reports whether the Firestore connection is usable. A disabled
// client is always healthy. It writes a ping document rather than reading
// one, so a missing document never registers as unhealthy.
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("audit: firestore client not initialized")
	}
	_, err := c.firestore.Doc("_health/ping").Set(ctx, map[string]any{"checkedAt": gcpfirestore.ServerTimestamp})
	if err != nil {
		return fmt.Errorf("audit: health check: %w", err)
	}
	return nil
}

func (c *Client) setDoc(ctx context.Context, path string, data map[string]any) error {
	if !c.IsEnabled() {
		return nil
	}
	if c.firestore == nil {
		return fmt.Errorf("audit: firestore client not initialized")
	}
	_, err := c.firestore.Doc(path).Set(ctx, data, gcpfirestore.MergeAll)
	return err
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

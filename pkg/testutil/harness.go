// Package testutil provides testing utilities for controller plugins.
// This file provides a TestEnv for integration testing external plugins.
package testutil

import (
	"fmt"

	"colorlogic/internal/clock"
	"colorlogic/internal/config"
	"colorlogic/internal/control"
	"colorlogic/internal/ha"
	"colorlogic/internal/plugins/lights"
	"colorlogic/internal/state"
	pkgha "colorlogic/pkg/ha"
	pkgstate "colorlogic/pkg/state"

	"go.uber.org/zap"
)

// TestEnv provides a complete test environment for plugin integration tests.
// It creates real internal implementations but exposes them via pkg interfaces,
// allowing external modules to write integration tests without importing
// internal packages.
type TestEnv struct {
	// Public fields - exposed via pkg interfaces
	Server       *MockHAServer
	HAClient     pkgha.Client
	StateManager pkgstate.Manager
	Logger       *zap.Logger

	// Controls is populated by StartLights with one controller per
	// configured light.
	Controls *control.Registry

	// Internal references for cleanup and advanced usage
	internalClient       *ha.Client
	internalStateManager *state.Manager
	lightsManager        *lights.Manager
}

// NewTestEnv creates a fully configured test environment with mock HA server,
// connected client, and synced state manager.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("localhost:8123", "test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	// Use env.HAClient and env.StateManager in your plugin tests
func NewTestEnv(addr, token string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	// Start mock HA server with the controller's entities seeded
	server := NewMockHAServer(addr, token)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}
	server.InitializeStates()

	// Create and connect client
	client := ha.NewClient(fmt.Sprintf("ws://%s/api/websocket", addr), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	// Create state manager and sync
	stateManager := state.NewManager(client, logger, false)
	if err := stateManager.SyncFromHA(); err != nil {
		client.Disconnect()
		server.Stop()
		return nil, fmt.Errorf("failed to sync state: %w", err)
	}

	return &TestEnv{
		Server:               server,
		HAClient:             pkgha.WrapClient(client),
		StateManager:         pkgstate.WrapManager(stateManager),
		Logger:               logger,
		internalClient:       client,
		internalStateManager: stateManager,
	}, nil
}

// StartLights starts the lights plugin over the given config directory, which
// is the common dependency for plugins that command lights: it registers one
// controller per configured light in env.Controls.
func (e *TestEnv) StartLights(configDir string) error {
	loader := config.NewLoader(configDir, e.Logger)
	if err := loader.LoadAll(); err != nil {
		return fmt.Errorf("failed to load configs: %w", err)
	}

	e.Controls = control.NewRegistry()
	e.lightsManager = lights.NewManager(e.internalClient, e.internalStateManager,
		loader, e.Controls, clock.NewRealClock(), e.Logger, false, nil)
	return e.lightsManager.Start()
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.lightsManager != nil {
		e.lightsManager.Stop()
	}
	if e.internalClient != nil {
		e.internalClient.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
// Useful for asserting that plugins made expected HA service calls.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}

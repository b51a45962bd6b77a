package health

import (
	"sync"
	"testing"
)

// graphd's only callers (server.Server, engine.Engine, registry.Registry; see
// server/server.go, engine/engine.go, registry/registry.go) use NewMonitor,
// UpdateHealthy, UpdateUnhealthy, and Remove — the registry reports clients
// registered/zombified/alive, the server reports its own listening state.
// Nothing in the domain calls GetAll, AggregateHealth, ListComponents, Count,
// Clear, or UpdateDegraded yet, so their dedicated tests aren't carried;
// Get is kept since every Update test needs a way to observe its effect.

func TestNewMonitor(t *testing.T) {
	monitor := NewMonitor()

	if monitor == nil {
		t.Fatal("NewMonitor() returned nil")
	}

	if monitor.statuses == nil {
		t.Error("NewMonitor() should initialize statuses map")
	}
}

func TestMonitor_Update(t *testing.T) {
	monitor := NewMonitor()

	status := Status{
		Component: "test-component",
		Status:    "healthy",
		Message:   "test message",
	}

	monitor.Update("test-component", status)

	retrieved, exists := monitor.Get("test-component")
	if !exists {
		t.Error("Component should exist after update")
	}

	if retrieved.Component != "test-component" {
		t.Errorf("Expected component name 'test-component', got %s", retrieved.Component)
	}

	if retrieved.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %s", retrieved.Status)
	}

	if retrieved.Timestamp.IsZero() {
		t.Error("Update should set timestamp if not provided")
	}
}

func TestMonitor_UpdateWithDifferentName(t *testing.T) {
	monitor := NewMonitor()

	// Update with a status that has a different component name
	status := Status{
		Component: "wrong-name",
		Status:    "healthy",
		Message:   "test message",
	}

	monitor.Update("correct-name", status)

	retrieved, exists := monitor.Get("correct-name")
	if !exists {
		t.Error("Component should exist with correct name")
	}

	// The component name should be corrected by Update
	if retrieved.Component != "correct-name" {
		t.Errorf("Expected component name 'correct-name', got %s", retrieved.Component)
	}
}

func TestMonitor_UpdateConvenienceMethods(t *testing.T) {
	monitor := NewMonitor()

	// Test UpdateHealthy
	monitor.UpdateHealthy("healthy-comp", "all good")
	healthyStatus, exists := monitor.Get("healthy-comp")
	if !exists || !healthyStatus.IsHealthy() {
		t.Error("UpdateHealthy should set component as healthy")
	}
	if healthyStatus.Message != "all good" {
		t.Errorf("Expected message 'all good', got %s", healthyStatus.Message)
	}

	// Test UpdateUnhealthy
	monitor.UpdateUnhealthy("unhealthy-comp", "something wrong")
	unhealthyStatus, exists := monitor.Get("unhealthy-comp")
	if !exists || !unhealthyStatus.IsUnhealthy() {
		t.Error("UpdateUnhealthy should set component as unhealthy")
	}
	if unhealthyStatus.Message != "something wrong" {
		t.Errorf("Expected message 'something wrong', got %s", unhealthyStatus.Message)
	}
}

func TestMonitor_Get(t *testing.T) {
	monitor := NewMonitor()

	// Test getting non-existent component
	_, exists := monitor.Get("non-existent")
	if exists {
		t.Error("Getting non-existent component should return false")
	}

	// Add a component and test getting it
	monitor.UpdateHealthy("test", "message")
	status, exists := monitor.Get("test")
	if !exists {
		t.Error("Getting existing component should return true")
	}
	if status.Component != "test" {
		t.Errorf("Expected component 'test', got %s", status.Component)
	}
}

func TestMonitor_Remove(t *testing.T) {
	monitor := NewMonitor()

	// Remove from empty monitor (should not panic)
	monitor.Remove("non-existent")

	// Add component, then remove it
	monitor.UpdateHealthy("test", "message")
	if _, exists := monitor.Get("test"); !exists {
		t.Error("Should exist after adding")
	}

	monitor.Remove("test")
	if _, exists := monitor.Get("test"); exists {
		t.Error("Component should not exist after removal")
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()
	numGoroutines := 10
	numOperationsPerGoroutine := 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// registry.Registry reports health from per-client goroutines, so this
	// mirrors its actual concurrent-access pattern.
	for i := 0; i < numGoroutines; i++ {
		go func(_ int) {
			defer wg.Done()

			for j := 0; j < numOperationsPerGoroutine; j++ {
				componentName := "comp"

				switch j % 3 {
				case 0:
					monitor.UpdateHealthy(componentName, "healthy")
				case 1:
					monitor.UpdateUnhealthy(componentName, "unhealthy")
				case 2:
					_, _ = monitor.Get(componentName)
				}
			}
		}(i)
	}

	wg.Wait()

	monitor.UpdateHealthy("final-test", "test message")
	status, exists := monitor.Get("final-test")
	if !exists || status.Component != "final-test" {
		t.Error("Monitor should still be functional after concurrent access")
	}
}

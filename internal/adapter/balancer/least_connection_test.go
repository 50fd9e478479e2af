package balancer

import (
	"sync"
	"testing"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

const balancerName = "least-connections"

func TestNewLeastConnectionsSelector(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	if selector == nil {
		t.Fatal("NewLeastConnectionsSelector returned nil")
	}

	if selector.connections == nil {
		t.Error("Connections map not initialised")
	}

	if selector.Name() != balancerName {
		t.Errorf("Expected name '%s', got %q", balancerName, selector.Name())
	}
}

func TestLeastConnectionsSelector_Select_NoEndpoints(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoint, err := selector.Select([]*domain.Endpoint{})
	if err == nil {
		t.Error("Expected error for empty endpoints")
	}
	if endpoint != nil {
		t.Error("Expected nil endpoint for empty slice")
	}
}

func TestLeastConnectionsSelector_Select_NoRoutableEndpoints(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("endpoint-1", 11434, domain.StatusOffline, 100),
		newBalancerTestEndpoint("endpoint-2", 11435, domain.StatusUnknown, 100),
	}

	endpoint, err := selector.Select(endpoints)
	if err == nil {
		t.Error("Expected error for no routable endpoints")
	}
	if endpoint != nil {
		t.Error("Expected nil endpoint for no routable endpoints")
	}
}

func TestLeastConnectionsSelector_Select_SingleEndpoint(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("endpoint-1", 11434, domain.StatusHealthy, 100),
	}

	endpoint, err := selector.Select(endpoints)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if endpoint == nil {
		t.Fatal("Expected endpoint, got nil")
	}
	if endpoint.Authority != "endpoint-1" {
		t.Errorf("Expected endpoint-1, got %s", endpoint.Authority)
	}
}

func TestLeastConnectionsSelector_Select_MultipleEndpoints(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("endpoint-1", 11434, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-2", 11435, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-3", 11436, domain.StatusDegraded, 100),
	}

	endpoint, err := selector.Select(endpoints)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if endpoint.Authority != "endpoint-1" {
		t.Errorf("Expected endpoint-1 first, got %s", endpoint.Authority)
	}

	selector.IncrementConnections(endpoints[0])
	selector.IncrementConnections(endpoints[0])
	selector.IncrementConnections(endpoints[1])

	endpoint, err = selector.Select(endpoints)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if endpoint.Authority != "endpoint-3" {
		t.Errorf("Expected endpoint-3 (least connections), got %s", endpoint.Authority)
	}
}

func TestLeastConnectionsSelector_Select_OnlyRoutableEndpoints(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("offline", 11434, domain.StatusOffline, 100),
		newBalancerTestEndpoint("healthy", 11435, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("degraded", 11436, domain.StatusDegraded, 100),
	}

	selectedNames := make(map[string]int)
	for i := 0; i < 50; i++ {
		endpoint, err := selector.Select(endpoints)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		selectedNames[endpoint.Authority]++
		selector.IncrementConnections(endpoint)
		if i%5 == 0 {
			selector.DecrementConnections(endpoint)
		}
	}

	if selectedNames["offline"] > 0 {
		t.Error("Offline endpoint was selected")
	}
	if selectedNames["healthy"] == 0 {
		t.Error("Healthy endpoint was never selected")
	}
	if selectedNames["degraded"] == 0 {
		t.Error("Degraded endpoint was never selected")
	}
}

func TestLeastConnectionsSelector_ConnectionTracking(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoint := newBalancerTestEndpoint("test", 11434, domain.StatusHealthy, 100)

	selector.IncrementConnections(endpoint)
	selector.IncrementConnections(endpoint)

	endpoints := []*domain.Endpoint{
		endpoint,
		newBalancerTestEndpoint("test2", 11435, domain.StatusHealthy, 100),
	}

	selected, _ := selector.Select(endpoints)
	if selected.Authority != "test2" {
		t.Error("Expected endpoint with fewer connections to be selected")
	}

	selector.DecrementConnections(endpoint)
	selected, _ = selector.Select(endpoints)
	if selected.Authority != "test2" {
		t.Error("Expected endpoint with fewer connections after decrement")
	}
}

func TestLeastConnectionsSelector_DecrementBelowZero(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())
	endpoint := newBalancerTestEndpoint("test", 11434, domain.StatusHealthy, 100)

	selector.DecrementConnections(endpoint)

	if count := selector.GetConnectionCount(endpoint); count != 0 {
		t.Errorf("Expected 0 connections after decrement below zero, got %d", count)
	}
}

func TestLeastConnectionsSelector_ConcurrentAccess(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("endpoint-1", 11434, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-2", 11435, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-3", 11436, domain.StatusHealthy, 100),
	}

	var wg sync.WaitGroup
	errors := make(chan error, 100)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := selector.Select(endpoints); err != nil {
					errors <- err
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			endpoint := endpoints[id%len(endpoints)]
			for j := 0; j < 10; j++ {
				selector.IncrementConnections(endpoint)
				selector.DecrementConnections(endpoint)
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("Concurrent access error: %v", err)
	}
}

func TestLeastConnectionsSelector_LoadBalancing(t *testing.T) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("endpoint-1", 11434, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-2", 11435, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("endpoint-3", 11436, domain.StatusHealthy, 100),
	}

	selections := make(map[string]int)

	for i := 0; i < 100; i++ {
		selected, err := selector.Select(endpoints)
		if err != nil {
			t.Fatalf("Selection failed: %v", err)
		}
		selections[selected.Authority]++
		selector.IncrementConnections(selected)
		if i%3 == 0 {
			selector.DecrementConnections(selected)
		}
	}

	if len(selections) < 2 {
		t.Error("Load balancing not working - only one endpoint selected")
	}

	for _, endpoint := range endpoints {
		if selections[endpoint.Authority] == 0 {
			t.Errorf("Endpoint %s was never selected", endpoint.Authority)
		}
	}
}

package balancer

import (
	"fmt"
	"testing"

	"github.com/thushan/sidecarproxy/internal/core/domain"
)

func BenchmarkFactory_Create(b *testing.B) {
	factory := NewFactory(NewTestStatsCollector())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		selector, err := factory.Create(DefaultBalancerPriority)
		if err != nil {
			b.Fatal(err)
		}
		_ = selector
	}
}

func BenchmarkPrioritySelector_Select(b *testing.B) {
	selector := NewPrioritySelector(NewTestStatsCollector())

	endpoints := make([]*domain.Endpoint, 10)
	for i := 0; i < 10; i++ {
		endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100+i*10)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := selector.Select(endpoints); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPrioritySelector_SelectSamePriority(b *testing.B) {
	selector := NewPrioritySelector(NewTestStatsCollector())

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("healthy", 11434, domain.StatusHealthy, 100),
		newBalancerTestEndpoint("degraded", 11435, domain.StatusDegraded, 100),
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := selector.Select(endpoints); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRoundRobinSelector_Select(b *testing.B) {
	selector := NewRoundRobinSelector(NewTestStatsCollector())

	endpoints := make([]*domain.Endpoint, 10)
	for i := 0; i < 10; i++ {
		endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := selector.Select(endpoints); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLeastConnectionsSelector_Select(b *testing.B) {
	selector := NewLeastConnectionsSelector(NewTestStatsCollector())

	endpoints := make([]*domain.Endpoint, 10)
	for i := 0; i < 10; i++ {
		endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100)
	}

	for i, endpoint := range endpoints {
		for j := 0; j < i; j++ {
			selector.IncrementConnections(endpoint)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := selector.Select(endpoints); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConnectionTracking(b *testing.B) {
	collector := NewTestStatsCollector()
	selectors := map[string]domain.EndpointSelector{
		DefaultBalancerPriority:         NewPrioritySelector(collector),
		DefaultBalancerRoundRobin:       NewRoundRobinSelector(collector),
		DefaultBalancerLeastConnections: NewLeastConnectionsSelector(collector),
	}

	endpoint := newBalancerTestEndpoint("test", 11434, domain.StatusHealthy, 100)

	for name, selector := range selectors {
		b.Run(name, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				selector.IncrementConnections(endpoint)
				selector.DecrementConnections(endpoint)
			}
		})
	}
}

func BenchmarkConcurrentSelection(b *testing.B) {
	collector := NewTestStatsCollector()
	selectors := map[string]domain.EndpointSelector{
		DefaultBalancerPriority:         NewPrioritySelector(collector),
		DefaultBalancerRoundRobin:       NewRoundRobinSelector(collector),
		DefaultBalancerLeastConnections: NewLeastConnectionsSelector(collector),
	}

	endpoints := make([]*domain.Endpoint, 5)
	for i := 0; i < 5; i++ {
		endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100+i*50)
	}

	for name, selector := range selectors {
		b.Run(name, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if _, err := selector.Select(endpoints); err != nil {
						b.Fatal(err)
					}
				}
			})
		})
	}
}

func BenchmarkLargeEndpointSet(b *testing.B) {
	sizes := []int{10, 50, 100, 500}

	for _, size := range sizes {
		b.Run(fmt.Sprintf("size-%d", size), func(b *testing.B) {
			collector := NewTestStatsCollector()
			selectors := map[string]domain.EndpointSelector{
				DefaultBalancerPriority:         NewPrioritySelector(collector),
				DefaultBalancerRoundRobin:       NewRoundRobinSelector(collector),
				DefaultBalancerLeastConnections: NewLeastConnectionsSelector(collector),
			}

			endpoints := make([]*domain.Endpoint, size)
			for i := 0; i < size; i++ {
				status := domain.StatusHealthy
				if i%4 == 0 {
					status = domain.StatusDegraded
				}
				endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, status, 100+i)
			}

			for selectorName, selector := range selectors {
				b.Run(selectorName, func(b *testing.B) {
					b.ResetTimer()
					b.ReportAllocs()

					for i := 0; i < b.N; i++ {
						if _, err := selector.Select(endpoints); err != nil {
							b.Fatal(err)
						}
					}
				})
			}
		})
	}
}

func BenchmarkFilteringRoutableEndpoints(b *testing.B) {
	endpoints := make([]*domain.Endpoint, 20)
	statuses := []domain.EndpointStatus{
		domain.StatusHealthy, domain.StatusDegraded,
		domain.StatusOffline, domain.StatusUnknown,
	}

	for i := 0; i < 20; i++ {
		endpoints[i] = newBalancerTestEndpoint(
			fmt.Sprintf("endpoint-%d", i),
			11434+i,
			statuses[i%len(statuses)],
			100+i*10,
		)
	}

	collector := NewTestStatsCollector()
	selectors := map[string]domain.EndpointSelector{
		DefaultBalancerPriority:         NewPrioritySelector(collector),
		DefaultBalancerRoundRobin:       NewRoundRobinSelector(collector),
		DefaultBalancerLeastConnections: NewLeastConnectionsSelector(collector),
	}

	for name, selector := range selectors {
		b.Run(name, func(b *testing.B) {
			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := selector.Select(endpoints); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMemoryUsage(b *testing.B) {
	b.Run("factory-creation", func(b *testing.B) {
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			factory := NewFactory(NewTestStatsCollector())
			_ = factory
		}
	})

	b.Run("selector-creation", func(b *testing.B) {
		factory := NewFactory(NewTestStatsCollector())

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			priority, _ := factory.Create(DefaultBalancerPriority)
			roundRobin, _ := factory.Create(DefaultBalancerRoundRobin)
			leastConn, _ := factory.Create(DefaultBalancerLeastConnections)

			_ = priority
			_ = roundRobin
			_ = leastConn
		}
	})

	b.Run("connection-tracking", func(b *testing.B) {
		selector := NewPrioritySelector(NewTestStatsCollector())
		endpoints := make([]*domain.Endpoint, 100)

		for i := 0; i < 100; i++ {
			endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100)
		}

		b.ResetTimer()
		b.ReportAllocs()

		for i := 0; i < b.N; i++ {
			endpoint := endpoints[i%len(endpoints)]
			selector.IncrementConnections(endpoint)
		}
	})
}

func BenchmarkPrioritySelector_ConnectionStats(b *testing.B) {
	selector := NewPrioritySelector(NewTestStatsCollector())

	for i := 0; i < 50; i++ {
		endpoint := newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100)
		for j := 0; j < i%10; j++ {
			selector.IncrementConnections(endpoint)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		stats := selector.GetConnectionStats()
		_ = stats
	}
}

func BenchmarkConcurrentConnectionTracking(b *testing.B) {
	selector := NewPrioritySelector(NewTestStatsCollector())
	endpoints := make([]*domain.Endpoint, 10)

	for i := 0; i < 10; i++ {
		endpoints[i] = newBalancerTestEndpoint(fmt.Sprintf("endpoint-%d", i), 11434+i, domain.StatusHealthy, 100)
	}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			endpoint := endpoints[0]
			selector.IncrementConnections(endpoint)
			selector.DecrementConnections(endpoint)
		}
	})
}

func BenchmarkRealWorldScenario(b *testing.B) {
	factory := NewFactory(NewTestStatsCollector())
	selector, _ := factory.Create("priority")

	endpoints := []*domain.Endpoint{
		newBalancerTestEndpoint("primary", 11434, domain.StatusHealthy, 300),
		newBalancerTestEndpoint("secondary", 11435, domain.StatusHealthy, 200),
		newBalancerTestEndpoint("tertiary", 11436, domain.StatusDegraded, 100),
		newBalancerTestEndpoint("offline", 11437, domain.StatusOffline, 400),
	}

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			endpoint, err := selector.Select(endpoints)
			if err != nil {
				b.Fatal(err)
			}

			selector.IncrementConnections(endpoint)

			if b.N%10 == 0 {
				selector.DecrementConnections(endpoint)
			}
		}
	})
}

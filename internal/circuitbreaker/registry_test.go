package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var (
		registry *circuitbreaker.Registry
		a, b     *backend.Endpoint
	)

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(2, 30*time.Second)
		a = backend.MustParse("http://localhost:8081")
		b = backend.MustParse("http://localhost:8082")
	})

	It("should return the same breaker for equal endpoints", func() {
		cb1 := registry.For(a)
		cb2 := registry.For(backend.MustParse("http://LOCALHOST:8081/"))
		Expect(cb1).To(BeIdenticalTo(cb2))
		Expect(registry.For(b)).NotTo(BeIdenticalTo(cb1))
	})

	It("should configure new breakers with the registry threshold", func() {
		cb := registry.For(a)
		cb.RecordFailure()
		cb.RecordFailure()
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	})

	It("should forget endpoints", func() {
		cb := registry.For(a)
		cb.RecordFailure()
		cb.RecordFailure()

		registry.Forget(a)

		Expect(registry.Stats()).NotTo(HaveKey(a.Key()))
		Expect(registry.For(a).State()).To(Equal(circuitbreaker.StateClosed))
	})

	It("should report the state of every breaker", func() {
		registry.For(a)
		cb := registry.For(b)
		cb.RecordFailure()
		cb.RecordFailure()

		Expect(registry.Stats()).To(Equal(map[string]circuitbreaker.State{
			a.Key(): circuitbreaker.StateClosed,
			b.Key(): circuitbreaker.StateOpen,
		}))
	})

	It("should create a single breaker under concurrent lookups", func() {
		const goroutines = 100

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(registry.For(a)).NotTo(BeNil())
			}()
		}
		wg.Wait()

		Expect(registry.Stats()).To(HaveLen(1))
	})
})

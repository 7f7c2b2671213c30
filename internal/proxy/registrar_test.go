package proxy_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/time/rate"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
	"github.com/angeloszaimis/origin-balancer/internal/proxy"
)

var _ = Describe("Registrar", func() {
	var (
		log    *slog.Logger
		lb     *loadbalancer.LoadBalancer
		ctx    context.Context
		cancel context.CancelFunc
		addr   string
	)

	start := func(readTimeout time.Duration) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()

		registrar := proxy.NewRegistrar(log, lb, readTimeout)
		startServing(ctx, registrar.Serve, ln)
	}

	// announce connects, optionally sends one line, and returns the reply
	// lines together with the local address used.
	announce := func(line string) ([]string, string) {
		conn, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(conn.SetDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

		if line != "" {
			_, err = conn.Write([]byte(line + "\n"))
			Expect(err).NotTo(HaveOccurred())
		}

		reply, err := io.ReadAll(conn)
		Expect(err).NotTo(HaveOccurred())
		return strings.Split(strings.TrimSuffix(string(reply), "\n"), "\n"), conn.LocalAddr().String()
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		lb = loadbalancer.NewLoadBalancer(log, pool.New(),
			healthcheck.NewTCPProber(time.Second),
			loadbalancer.Options{Schemes: backend.TCPSchemes})
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("should register the observed peer address", func() {
		start(0)

		lines, local := announce("")
		Expect(lines).To(Equal([]string{"tcp://" + local}))
		Expect(lb.Members()).To(Equal([]string{"tcp://" + local}))
	})

	It("should fall back to the peer address when nothing is announced in time", func() {
		start(50 * time.Millisecond)

		lines, local := announce("")
		Expect(lines).To(Equal([]string{"tcp://" + local}))
	})

	DescribeTable("should register an announced address",
		func(line, want string) {
			start(time.Second)

			lines, _ := announce(line)
			Expect(lines).To(Equal([]string{want}))
		},
		Entry("bare port", "9000", "tcp://127.0.0.1:9000"),
		Entry("host and port", "LocalHost:7000", "tcp://localhost:7000"),
		Entry("full endpoint", "tcp://10.0.0.5:7001", "tcp://10.0.0.5:7001"),
	)

	It("should reply with the whole membership", func() {
		start(time.Second)

		announce("7000")
		lines, _ := announce("7001")
		Expect(lines).To(Equal([]string{"tcp://127.0.0.1:7000", "tcp://127.0.0.1:7001"}))
	})

	It("should report duplicates", func() {
		start(time.Second)

		announce("7000")
		lines, _ := announce("7000")
		Expect(lines).To(HaveLen(1))
		Expect(lines[0]).To(HavePrefix("error: "))
		Expect(lines[0]).To(ContainSubstring(pool.ErrDuplicateEndpoint.Error()))
		Expect(lb.Members()).To(HaveLen(1))
	})

	DescribeTable("should report invalid announcements",
		func(line string) {
			start(time.Second)

			lines, _ := announce(line)
			Expect(lines[0]).To(HavePrefix("error: "))
			Expect(lb.Members()).To(BeEmpty())
		},
		Entry("http scheme", "http://localhost:7000"),
		Entry("missing port", "tcp://localhost"),
		Entry("port out of range", "localhost:99999x"),
	)

	It("should turn away registrations beyond the rate limit", func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr = ln.Addr().String()

		registrar := proxy.NewRegistrar(log, lb, 0).WithRateLimit(rate.NewLimiter(rate.Every(time.Hour), 1))
		startServing(ctx, registrar.Serve, ln)

		lines, _ := announce("")
		Expect(lines[0]).To(HavePrefix("tcp://127.0.0.1:"))

		lines, _ = announce("")
		Expect(lines).To(Equal([]string{"error: too many registrations"}))
		Expect(lb.Members()).To(HaveLen(1))
	})
})

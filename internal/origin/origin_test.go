package origin_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
	"github.com/angeloszaimis/origin-balancer/internal/handler"
	"github.com/angeloszaimis/origin-balancer/internal/healthcheck"
	"github.com/angeloszaimis/origin-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/origin-balancer/internal/origin"
	"github.com/angeloszaimis/origin-balancer/internal/pool"
	"github.com/angeloszaimis/origin-balancer/internal/proxy"
)

var _ = Describe("Origin", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	Describe("Handler", func() {
		var srv *httptest.Server

		BeforeEach(func() {
			srv = httptest.NewServer(origin.NewHandler(log, "alpha"))
			DeferCleanup(srv.Close)
		})

		It("should pass the balancer's health probe", func() {
			prober := healthcheck.NewHTTPProber(healthcheck.DefaultPath, time.Second)
			result := prober.Probe(context.Background(), backend.MustParse(srv.URL))
			Expect(result.Healthy).To(BeTrue())
		})

		It("should echo the request with a fresh id", func() {
			resp, err := http.Post(srv.URL+"/courses?page=2", "text/plain", strings.NewReader("hello"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var echo origin.Echo
			Expect(json.NewDecoder(resp.Body).Decode(&echo)).To(Succeed())
			Expect(echo.Origin).To(Equal("alpha"))
			Expect(echo.Method).To(Equal(http.MethodPost))
			Expect(echo.Path).To(Equal("/courses"))
			Expect(echo.Query).To(Equal("page=2"))
			Expect(echo.Body).To(Equal("hello"))

			_, err = uuid.Parse(echo.ID)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Register", func() {
		var (
			lb       *loadbalancer.LoadBalancer
			balancer *httptest.Server
		)

		BeforeEach(func() {
			prober := healthcheck.NewHTTPProber(healthcheck.DefaultPath, time.Second)
			lb = loadbalancer.NewLoadBalancer(log, pool.New(), prober, loadbalancer.Options{})
			balancer = httptest.NewServer(handler.NewRegistrationHandler(log, lb))
			DeferCleanup(balancer.Close)
		})

		It("should join the pool and report the membership", func() {
			client := origin.NewClient(log, 0, 0)

			members, err := origin.Register(context.Background(), client, balancer.URL, "http://127.0.0.1:9001")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(Equal([]string{"http://127.0.0.1:9001"}))

			members, err = origin.Register(context.Background(), client, balancer.URL+"/", "http://127.0.0.1:9002")
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(Equal([]string{"http://127.0.0.1:9001", "http://127.0.0.1:9002"}))
			Expect(lb.Members()).To(HaveLen(2))
		})

		It("should surface a rejection without retrying", func() {
			client := origin.NewClient(log, 3, 10*time.Millisecond)

			_, err := origin.Register(context.Background(), client, balancer.URL, "http://127.0.0.1:9001")
			Expect(err).NotTo(HaveOccurred())

			_, err = origin.Register(context.Background(), client, balancer.URL, "http://127.0.0.1:9001")
			Expect(err).To(MatchError(origin.ErrRejected))
			Expect(err.Error()).To(ContainSubstring("Origin already exists"))
		})

		It("should give up when the balancer stays unreachable", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			addr := ln.Addr().String()
			Expect(ln.Close()).To(Succeed())

			client := origin.NewClient(log, 1, 10*time.Millisecond)
			_, err = origin.Register(context.Background(), client, "http://"+addr, "http://127.0.0.1:9001")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("TCP", func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)

		BeforeEach(func() {
			ctx, cancel = context.WithCancel(context.Background())
			DeferCleanup(cancel)
		})

		It("should announce itself to a registrar", func() {
			lb := loadbalancer.NewLoadBalancer(log, pool.New(), healthcheck.NewTCPProber(time.Second), loadbalancer.Options{
				Schemes: backend.TCPSchemes,
			})

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			registrar := proxy.NewRegistrar(log, lb, time.Second)
			go func() { _ = registrar.Serve(ctx, ln) }()

			members, err := origin.Announce(ctx, ln.Addr().String(), "127.0.0.1:7001", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(members).To(Equal([]string{"tcp://127.0.0.1:7001"}))

			_, err = origin.Announce(ctx, ln.Addr().String(), "127.0.0.1:7001", time.Second)
			Expect(err).To(MatchError(origin.ErrRejected))
		})

		It("should echo with its name once the peer stops writing", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			done := make(chan error, 1)
			go func() { done <- origin.ServeTCP(ctx, ln, log, "beta") }()

			conn, err := net.Dial("tcp", ln.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			_, err = conn.Write([]byte("ping"))
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.(*net.TCPConn).CloseWrite()).To(Succeed())

			reply, err := io.ReadAll(conn)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(reply)).To(Equal("beta:ping"))

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		})
	})
})

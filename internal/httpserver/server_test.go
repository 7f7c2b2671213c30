package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/origin-balancer/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		DescribeTable("accepts valid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv.Addr()).To(Equal(addr))
			},
			Entry("hostname", "localhost:9999"),
			Entry("ip address", "127.0.0.1:9999"),
			Entry("port only", ":9999"),
			Entry("ephemeral port", "127.0.0.1:0"),
		)

		DescribeTable("rejects invalid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost"),
			Entry("empty port", "localhost:"),
			Entry("named port", "localhost:http"),
		)
	})

	Context("server lifecycle", func() {
		var (
			srv  *httpserver.Server
			ln   net.Listener
			done chan error
		)

		BeforeEach(func() {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("test"))
			})

			var err error
			srv, err = httpserver.New("127.0.0.1:0", handler)
			Expect(err).NotTo(HaveOccurred())

			ln, err = net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())

			done = make(chan error, 1)
			go func() {
				done <- srv.Serve(ln)
			}()
		})

		AfterEach(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})

		It("handles requests", func() {
			resp, err := http.Get("http://" + ln.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("returns nil from Serve after a graceful shutdown", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			Expect(srv.Shutdown(ctx)).To(Succeed())
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})

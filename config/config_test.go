package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/origin-balancer/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	setenv := func(key, value string) {
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, key)
	}

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("Load", func() {
		Context("with a valid config file", func() {
			var cfg *config.Config

			BeforeEach(func() {
				path := writeConfig(`
server:
  address: ":8080"
  environment: "staging"
  control_address: "127.0.0.1:8081"

transport:
  connect_timeout: "2s"
  retry_on_connect_failure: true

dispatch:
  mode: "forward"

health_check:
  path: "/health"
  timeout: "1500ms"
  background: true
  interval: "3s"
  failure_threshold: 3
  evict: true

backends:
  - "http://localhost:8081"
  - "http://localhost:8082"

logging:
  level: "debug"
`)
				var err error
				cfg, err = config.Load(config.NewViper(), path)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should read every section", func() {
				Expect(cfg.Server.Environment).To(Equal(config.EnvStaging))
				Expect(cfg.Server.ControlAddress).To(Equal("127.0.0.1:8081"))
				Expect(cfg.Dispatch.Mode).To(Equal(config.DispatchForward))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
				Expect(cfg.Backends).To(Equal([]string{"http://localhost:8081", "http://localhost:8082"}))
			})

			It("should decode durations", func() {
				Expect(cfg.Transport.ConnectTimeout).To(Equal(2 * time.Second))
				Expect(cfg.HealthCheck.Timeout).To(Equal(1500 * time.Millisecond))
				Expect(cfg.HealthCheck.Interval).To(Equal(3 * time.Second))
			})

			It("should keep defaults for keys the file leaves out", func() {
				Expect(cfg.Transport.BufferSize).To(Equal(32 * 1024))
				Expect(cfg.Registration.Address).To(Equal(":9090"))
				Expect(cfg.Registration.ReadTimeout).To(Equal(500 * time.Millisecond))
				Expect(cfg.Registration.RateLimit).To(BeZero())
				Expect(cfg.HealthCheck.ResetTimeout).To(Equal(30 * time.Second))
			})

			It("should read the health policy", func() {
				Expect(cfg.HealthCheck.Path).To(Equal("/health"))
				Expect(cfg.HealthCheck.Background).To(BeTrue())
				Expect(cfg.HealthCheck.FailureThreshold).To(Equal(3))
				Expect(cfg.HealthCheck.Evict).To(BeTrue())
				Expect(cfg.Transport.RetryOnConnectFailure).To(BeTrue())
			})
		})

		Context("without a config file", func() {
			BeforeEach(func() {
				wd, err := os.Getwd()
				Expect(err).NotTo(HaveOccurred())
				Expect(os.Chdir(tempDir)).To(Succeed())
				DeferCleanup(os.Chdir, wd)
			})

			It("should use defaults", func() {
				cfg, err := config.Load(config.NewViper(), "")
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Dispatch.Mode).To(Equal(config.DispatchRedirect))
				Expect(cfg.HealthCheck.Path).To(Equal("/healthCheck"))
				Expect(cfg.HealthCheck.Timeout).To(Equal(5 * time.Second))
				Expect(cfg.Transport.ConnectTimeout).To(Equal(5 * time.Second))
				Expect(cfg.HealthCheck.FailureThreshold).To(BeZero())
				Expect(cfg.Backends).To(BeEmpty())
			})

			It("should let environment variables override defaults", func() {
				setenv("DISPATCH_MODE", "forward")
				setenv("TRANSPORT_CONNECT_TIMEOUT", "750ms")
				setenv("BACKENDS", "tcp://127.0.0.1:9001,tcp://127.0.0.1:9002")

				cfg, err := config.Load(config.NewViper(), "")
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Dispatch.Mode).To(Equal(config.DispatchForward))
				Expect(cfg.Transport.ConnectTimeout).To(Equal(750 * time.Millisecond))
				Expect(cfg.Backends).To(Equal([]string{"tcp://127.0.0.1:9001", "tcp://127.0.0.1:9002"}))
			})

			It("should prefer values set on the viper instance", func() {
				v := config.NewViper()
				v.Set("registration.address", "127.0.0.1:9191")

				cfg, err := config.Load(v, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Registration.Address).To(Equal("127.0.0.1:9191"))
			})
		})

		It("should fail when an explicit file is missing", func() {
			_, err := config.Load(config.NewViper(), filepath.Join(tempDir, "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})

		DescribeTable("should reject invalid settings",
			func(content string) {
				path := writeConfig(content)
				cfg, err := config.Load(config.NewViper(), path)
				Expect(err).To(HaveOccurred())
				Expect(cfg).To(BeNil())
			},
			Entry("unknown environment", "server:\n  environment: qa\n"),
			Entry("bad listen address", "server:\n  address: \"nope\"\n"),
			Entry("unknown dispatch mode", "dispatch:\n  mode: mirror\n"),
			Entry("unknown log level", "logging:\n  level: verbose\n"),
			Entry("health path without slash", "health_check:\n  path: healthCheck\n"),
			Entry("zero probe timeout", "health_check:\n  timeout: 0s\n"),
			Entry("eviction without threshold", "health_check:\n  evict: true\n"),
			Entry("tiny relay buffer", "transport:\n  buffer_size: 16\n"),
			Entry("negative registration rate", "registration:\n  rate_limit: -1\n"),
			Entry("rate limit without burst", "registration:\n  rate_limit: 5\n  burst: 0\n"),
			Entry("malformed backend", "backends:\n  - \"localhost:8081\"\n"),
		)
	})
})

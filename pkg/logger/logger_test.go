package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/origin-balancer/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("ParseLevel", func() {
		DescribeTable("maps level names",
			func(in string, want slog.Level) {
				Expect(logger.ParseLevel(in)).To(Equal(want))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("info", "info", slog.LevelInfo),
			Entry("warn in upper case", "WARN", slog.LevelWarn),
			Entry("error", "error", slog.LevelError),
			Entry("unknown falls back to info", "invalid", slog.LevelInfo),
		)
	})

	Describe("New", func() {
		It("should create a logger for every environment", func() {
			Expect(logger.New("info", false, "dev")).NotTo(BeNil())
			Expect(logger.New("info", true, "prod")).NotTo(BeNil())
		})

		DescribeTable("should respect the configured level",
			func(lvl string, enabled, disabled slog.Level) {
				log := logger.New(lvl, false, "dev")
				Expect(log.Enabled(context.Background(), enabled)).To(BeTrue())
				Expect(log.Enabled(context.Background(), disabled)).To(BeFalse())
			},
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("warn", "warn", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
		)
	})

	Describe("NewWithWriter", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("should write JSON records in prod", func() {
			log := logger.NewWithWriter(buf, "info", false, "prod")
			log.Info("Registered backend", slog.String("backend", "http://a:1"))

			var record map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &record)).To(Succeed())
			Expect(record).To(HaveKeyWithValue("msg", "Registered backend"))
			Expect(record).To(HaveKeyWithValue("environment", "prod"))
			Expect(record).To(HaveKeyWithValue("backend", "http://a:1"))
		})

		It("should write text records elsewhere", func() {
			log := logger.NewWithWriter(buf, "debug", false, "staging")
			log.Debug("Skipping backend")

			Expect(buf.String()).To(ContainSubstring(`msg="Skipping backend"`))
			Expect(buf.String()).To(ContainSubstring("environment=staging"))
		})

		It("should drop records below the level", func() {
			log := logger.NewWithWriter(buf, "warn", false, "dev")
			log.Info("quiet")

			Expect(buf.Len()).To(BeZero())
		})
	})
})

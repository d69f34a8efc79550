package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/mapthewalls/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.BucketDriver, convey.ShouldEqual, config.BucketMemory)
			convey.So(cfg.PhotoBudgetBytes, convey.ShouldEqual, 380*1024)
			convey.So(cfg.JanitorSchedule, convey.ShouldEqual, "@every 10m")
			convey.So(cfg.SummaryTTL(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a config selecting postgres without a URL", t, func() {
		cfg := config.New()
		cfg.StoreDriver = config.StorePostgres

		convey.Convey("Then validation should fail with ErrInvalidConfig", func() {
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "database_url")
		})
	})

	convey.Convey("Given a config selecting gcs without a bucket name", t, func() {
		cfg := config.New()
		cfg.BucketDriver = config.BucketGCS

		convey.Convey("Then validation should fail", func() {
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestDeviceConfig_New(t *testing.T) {
	convey.Convey("Given a new device config", t, func() {
		cfg := config.NewDevice()

		convey.Convey("Then it should default to the remote policy", func() {
			convey.So(cfg.Policy, convey.ShouldEqual, config.PolicyRemote)
			convey.So(cfg.RequestTimeout(), convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When the policy is unknown", func() {
			cfg.Policy = "both"

			convey.Convey("Then validation should fail", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

package config_test

import (
	"errors"
	"testing"

	"github.com/okian/clipfuse/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.VideoDir, convey.ShouldEqual, "videos")
			convey.So(cfg.Extension, convey.ShouldEqual, ".mp4")
			convey.So(cfg.Frames, convey.ShouldEqual, 16)
			convey.So(cfg.FrameSize, convey.ShouldEqual, 112)
			convey.So(cfg.Fusion, convey.ShouldEqual, "early")
			convey.So(cfg.DecodeWorkers, convey.ShouldEqual, 1)
			convey.So(cfg.ShortPolicy, convey.ShouldEqual, "pad")
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		cases := []struct {
			name   string
			mutate func(c *config.Config)
		}{
			{"empty video dir", func(c *config.Config) { c.VideoDir = " " }},
			{"zero frames", func(c *config.Config) { c.Frames = 0 }},
			{"tiny frames", func(c *config.Config) { c.FrameSize = 2 }},
			{"zero classes", func(c *config.Config) { c.Classes = 0 }},
			{"narrow hidden layer", func(c *config.Config) { c.HiddenDim = 3 }},
			{"zero batch", func(c *config.Config) { c.BatchSize = 0 }},
			{"zero learning rate", func(c *config.Config) { c.LearningRate = 0 }},
			{"momentum of one", func(c *config.Config) { c.Momentum = 1 }},
			{"no decode workers", func(c *config.Config) { c.DecodeWorkers = 0 }},
			{"unknown fusion", func(c *config.Config) { c.Fusion = "sideways" }},
			{"unknown short policy", func(c *config.Config) { c.ShortPolicy = "ignore" }},
			{"mismatched label list", func(c *config.Config) { c.LabelClasses = []string{"a", "b"} }},
		}

		for _, tc := range cases {
			convey.Convey("When the config has "+tc.name, func() {
				tc.mutate(cfg)

				convey.Convey("Then validation fails with ErrInvalidConfig", func() {
					err := cfg.Validate()
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}

		convey.Convey("When fusion is given in upper case", func() {
			cfg.Fusion = "LATE"

			convey.Convey("Then it is accepted", func() {
				convey.So(cfg.Validate(), convey.ShouldBeNil)
			})
		})
	})
}

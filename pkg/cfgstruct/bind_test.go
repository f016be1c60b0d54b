// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package cfgstruct

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Address  string        `help:"listen address" default:":7777"`
	Attempts int           `help:"how many tries" default:"3"`
	Fraction float64       `help:"a ratio" default:"0.8"`
	Enabled  bool          `help:"switch" default:"true"`
	Interval time.Duration `help:"how often" default:"2s"`
	Nested   struct {
		Dir string `help:"directory" default:"$CONFDIR/data"`
	}
}

func TestBindDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var cfg testConfig
	Bind(flags, &cfg, ConfDir("/tmp/conf"))

	require.NoError(t, flags.Parse(nil))

	require.Equal(t, ":7777", cfg.Address)
	require.Equal(t, 3, cfg.Attempts)
	require.Equal(t, 0.8, cfg.Fraction)
	require.True(t, cfg.Enabled)
	require.Equal(t, 2*time.Second, cfg.Interval)
	require.Equal(t, "/tmp/conf/data", cfg.Nested.Dir)
}

func TestBindOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var cfg testConfig
	Bind(flags, &cfg)

	require.NoError(t, flags.Parse([]string{
		"--address", ":9999",
		"--nested.dir", "/data",
		"--interval", "1m",
	}))

	require.Equal(t, ":9999", cfg.Address)
	require.Equal(t, "/data", cfg.Nested.Dir)
	require.Equal(t, time.Minute, cfg.Interval)
}

func TestDevDefaults(t *testing.T) {
	type cfg struct {
		Database string `releaseDefault:"postgres://" devDefault:"sqlite3://$CONFDIR/catalog.db"`
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var release cfg
	Bind(flags, &release)
	require.NoError(t, flags.Parse(nil))
	require.Equal(t, "postgres://", release.Database)

	flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
	var dev cfg
	Bind(flags, &dev, UseDevDefaults(), ConfDir("/tmp"))
	require.NoError(t, flags.Parse(nil))
	require.Equal(t, "sqlite3:///tmp/catalog.db", dev.Database)
}

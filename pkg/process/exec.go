// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package process sets up per-process configuration, logging and
// signal handling shared by all commands.
package process

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the class of process setup errors.
var Error = errs.Class("process")

// DefaultConfDir returns the default configuration directory for the
// named command.
func DefaultConfDir(name string) string {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	fallback := filepath.Join(".barhop", name)
	home, err := homedir.Dir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// Execute runs a *cobra.Command with flag values overridable through
// environment variables (BARHOP_ prefix) and an optional yaml config
// file named by BARHOP_CONFIG. A .env file in the working directory is
// loaded first.
func Execute(cmd *cobra.Command) {
	_ = godotenv.Load()

	cobra.OnInitialize(func() {
		for _, sub := range allCommands(cmd) {
			if err := ApplyViper(sub); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
	})

	Must(cmd.Execute())
}

func allCommands(cmd *cobra.Command) []*cobra.Command {
	out := []*cobra.Command{cmd}
	for _, sub := range cmd.Commands() {
		out = append(out, allCommands(sub)...)
	}
	return out
}

// ApplyViper copies values from the environment and the config file
// into any flag the user did not set explicitly. Flags bound through
// cfgstruct write straight into config structs, so this is the only
// merge step needed.
func ApplyViper(cmd *cobra.Command) error {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return Error.Wrap(err)
	}
	vip.SetEnvPrefix("barhop")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if configFile := os.Getenv("BARHOP_CONFIG"); configFile != "" {
		vip.SetConfigFile(configFile)
		if err := vip.ReadInConfig(); err != nil {
			return Error.Wrap(err)
		}
	}

	var group errs.Group
	flags := cmd.Flags()
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !vip.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, vip.GetString(f.Name)); err != nil {
			group.Add(Error.New("invalid value for %q: %v", f.Name, err))
		}
	})
	return group.Err()
}

// Ctx returns a context that is canceled on SIGTERM or SIGINT.
func Ctx() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Must exits the process when err is set.
func Must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog"
	"github.com/barhop/barhop/pkg/cfgstruct"
	"github.com/barhop/barhop/pkg/process"
)

var (
	rootCmd = &cobra.Command{
		Use:   "barhop",
		Short: "business catalog ingestion pipeline",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "run the catalog peer",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "create a configuration directory",
		RunE:  cmdSetup,
	}

	runCfg   catalog.Config
	setupCfg catalog.Config

	confDir string
	logMode string
)

func init() {
	defaultConfDir := process.DefaultConfDir("barhop")
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", defaultConfDir, "main directory for barhop configuration")
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "dev", "logger disposition: dev or prod")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
	cfgstruct.Bind(runCmd.Flags(), &runCfg, cfgstruct.ConfDir(defaultConfDir))
	cfgstruct.Bind(setupCmd.Flags(), &setupCfg, cfgstruct.ConfDir(defaultConfDir))
}

func cmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx()
	defer cancel()

	log, err := process.NewLogger(logMode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	undo := process.SetGlobalLogger(log)
	defer undo()

	peer, err := catalog.New(ctx, log, runCfg)
	if err != nil {
		return err
	}
	runErr := peer.Run(ctx)
	return errs.Combine(runErr, peer.Close())
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	configFile := filepath.Join(setupDir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("configuration already exists (%v)", configFile)
	}

	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}
	if err := process.SaveConfig(cmd.Flags(), configFile); err != nil {
		return err
	}
	fmt.Println("configuration written to", configFile)
	return nil
}

func main() {
	process.Execute(rootCmd)
}

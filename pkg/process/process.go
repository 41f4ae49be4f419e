// Copyright (C) 2024 Open Ownership
// See LICENSE for copying information.

// Package process wires up the shared runtime of the pipeline binaries:
// configuration loading, logging, debug endpoints and signal handling.
package process

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the process package error class.
var Error = errs.Class("process error")

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.Println(err)
		return ".bodspipelines"
	}
	return filepath.Join(home, ".bodspipelines")
}

// Execute runs cmd with configuration loaded from flags, BODS_* environment
// variables and an optional config file, in that order of precedence.
func Execute(cmd *cobra.Command) {
	cfgFile := cmd.PersistentFlags().String("config",
		filepath.Join(DefaultConfigDir(), fmt.Sprintf("%s.yaml", cmd.Name())), "config file")

	// pick up the log.* and debug.* flags registered on the standard set
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cmd.PersistentFlags().AddFlagSet(pflag.CommandLine)

	cobra.OnInitialize(func() {
		_ = viper.BindPFlags(cmd.PersistentFlags())
		viper.SetEnvPrefix("bods")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
			_ = viper.ReadInConfig()
		}
		// push config-file and environment values into flags the command
		// line left at their defaults
		cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if !f.Changed && viper.IsSet(f.Name) {
				_ = cmd.PersistentFlags().Set(f.Name, fmt.Sprint(viper.Get(f.Name)))
			}
		})
	})

	Must(cmd.Execute())
}

// Ctx returns a context cancelled by SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Must exits the process on err.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

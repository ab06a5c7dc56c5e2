package main

import (
	"os"

	"github.com/pfirsich/cm4all-lukko/lib/config"
	"github.com/pfirsich/cm4all-lukko/lib/server"
	"github.com/pfirsich/cm4all-lukko/lib/spawn"
	"github.com/pfirsich/cm4all-lukko/lib/ssh/keys"
	"github.com/pfirsich/cm4all-lukko/lib/util/logger"
	"github.com/pfirsich/cm4all-lukko/lib/util/signals"
	"github.com/spf13/cobra"
)

var log = logger.GetLukkoLogger()

var rootCmd = &cobra.Command{
	Use:   "lukko",
	Short: "SSH gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a host key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.NewServerConfigFromViper()
		return keys.Generate(cfg.HostKey.Path, cfg.HostKey.Type)
	},
}

// delegateHelperCmd is the child side of the delegated-open protocol; the
// server spawns it with the control socket as fd 3.
var delegateHelperCmd = &cobra.Command{
	Use:    "delegate-helper",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return spawn.RunDelegateHelper()
	},
}

func runServer() error {
	cfg := config.NewServerConfigFromViper()

	l, err := server.NewListener(cfg, &server.FileAuthenticator{
		Dir: config.BuildLukkoDirPath(),
	})
	if err != nil {
		return err
	}

	go signals.Handle()
	signals.RegisterPreShutdownHandler(func() {
		l.DisconnectAll()
	})
	signals.RegisterInterruptHandler(func() {
		l.Stop()
	})

	log.Debug("starting up ssh gateway")
	if err := l.Start(); err != nil {
		return err
	}
	l.Wait()
	l.Close()
	return nil
}

func main() {
	cobra.OnInitialize(config.InitConfig)
	rootCmd.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.lukko/config.yaml)")
	rootCmd.AddCommand(genkeyCmd, delegateHelperCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("fatal: %s", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/Sirupsen/logrus"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/crotsos/flowvisor/internal/engine"
	"github.com/crotsos/flowvisor/internal/slicecfg"
	"github.com/crotsos/flowvisor/internal/topology"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowvisor",
		Short: "OpenFlow 1.0 virtualization proxy",
		RunE:  run,
	}

	rootCmd.PersistentFlags().String("switch-listen", ":6633", "address to accept physical switch connections on")
	rootCmd.PersistentFlags().String("controller-listen", ":6634", "address to accept controller connections on")
	rootCmd.PersistentFlags().String("slice-config", "", "YAML file describing the slice registry; hot-reloaded on change")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.Root().SilenceUsage = true

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	levelFlag, _ := cmd.Flags().GetString("log-level")
	level, err := log.ParseLevel(levelFlag)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	switchAddr, _ := cmd.Flags().GetString("switch-listen")
	controllerAddr, _ := cmd.Flags().GetString("controller-listen")
	sliceConfigPath, _ := cmd.Flags().GetString("slice-config")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("flowvisor: received shutdown signal")
		cancel()
	}()

	e := engine.New(topology.NewStatic())
	go e.Tracker.Sweep(ctx.Done())

	if sliceConfigPath != "" {
		loader := slicecfg.New(e, sliceConfigPath)
		if err := loader.Load(ctx); err != nil {
			return err
		}
		go func() {
			if err := loader.Watch(ctx); err != nil {
				log.Errorf("flowvisor: slice config watcher stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 2)
	go func() { errCh <- e.ServeSwitches(ctx, switchAddr) }()
	go func() { errCh <- e.ServeControllers(ctx, controllerAddr) }()

	color.Green("flowvisor ready: switches on %s, controllers on %s", switchAddr, controllerAddr)

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-ctx.Done():
		return nil
	}
}

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/botrunner/internal/botrunner"
	"github.com/armadaproject/botrunner/internal/botrunner/configuration"
	"github.com/armadaproject/botrunner/internal/common/runnercontext"
	"github.com/armadaproject/botrunner/internal/common/startup"
	"github.com/armadaproject/botrunner/pkg/update"
)

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the update runner and block until a termination signal arrives.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

// defaultConsume logs every update it receives. Embedders with a real bot
// handler are expected to import internal/botrunner directly rather than
// run this binary as-is.
func defaultConsume(ctx *runnercontext.Context, u update.Update) error {
	ctx.Log.WithField("update_id", u.UpdateID()).Info("received update")
	return nil
}

func runStart() error {
	startup.BindCommandlineArguments()

	var config configuration.BotRunnerConfig
	startup.LoadConfig(&config, "./config/botrunner", viper.GetStringSlice(customConfigLocation))

	logrus.Infof("starting botrunner with config %+v", config)

	shutdown, wg := botrunner.StartUp(&config, defaultConsume)

	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopSignal
		logrus.Info("shutdown signal received")
		shutdown()
	}()

	wg.Wait()
	return nil
}

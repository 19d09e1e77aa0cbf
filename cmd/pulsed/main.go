// Command pulsed runs a PulseAudio compatible server on top of an audio
// graph and offers a few client side commands to inspect a running server.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jfreymuth/pulsed/internal/config"
)

type options struct {
	configFile string
	server     string
	v          *viper.Viper
	log        *logrus.Logger
}

func main() {
	opts := &options{log: logrus.New()}
	root := &cobra.Command{
		Use:           "pulsed",
		Short:         "PulseAudio protocol server for an audio graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(opts.configFile)
			if err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			opts.v = v
			return config.ConfigureLogger(opts.log, v.GetString("log.level"), v.GetString("log.format"))
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.String("log.level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("log.format", "text", "log format (text or json)")

	root.AddCommand(serveCommand(opts), infoCommand(opts), listCommand(opts),
		uploadSampleCommand(opts), playSampleCommand(opts), removeSampleCommand(opts))
	if err := root.Execute(); err != nil {
		opts.log.WithError(err).Error("pulsed failed")
		os.Exit(1)
	}
}

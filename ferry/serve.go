package ferry

import (
	"github.com/SoftKiwiGames/ferry/ferry/logger"
	"github.com/SoftKiwiGames/ferry/ferry/web"
	"github.com/spf13/cobra"
)

func (f *Ferry) buildServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hello-world web responder",
		Long:  "Serve GET / and GET /test until interrupted. Metrics are exposed on a separate listener when server.metrics_addr is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd.Flags(), configDir, map[string]string{
				"server.host":         "host",
				"server.port":         "port",
				"server.message":      "message",
				"server.metrics_addr": "metrics-addr",
				"log.level":           "log-level",
				"log.format":          "log-format",
			})
			if err != nil {
				return err
			}
			if err := settings.ValidateServer(); err != nil {
				return err
			}

			log := logger.New(f.stdout, logger.Config{
				Level:  settings.Log.Level,
				Format: settings.Log.Format,
			})
			log.WithFields(map[string]any{
				"version": settings.Server.Version,
				"addr":    settings.Server.Addr(),
			}).Info("starting web responder")

			return web.New(settings.Server, log).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configDir, "config-dir", "c", ".", "Directory containing ferry.yaml and .env")
	cmd.Flags().String("host", "", "Interface to listen on")
	cmd.Flags().IntP("port", "p", 3000, "Port to listen on")
	cmd.Flags().String("message", "", "Message returned by /test")
	cmd.Flags().String("metrics-addr", "", "Address of the metrics listener (disabled when empty)")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "console", "Log format (json, console)")

	return cmd
}

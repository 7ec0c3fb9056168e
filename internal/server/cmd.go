package server

import (
	"github.com/spf13/cobra"

	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/logger"
)

func Command() *cobra.Command {
	var (
		cfgFile  string
		services []string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Expose configured services to tele clients",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadServer(cfgFile)
			if err != nil {
				logger.Fatalf("Error loading config: %v", err)
			}
			if err := applyFlags(cmd, &cfg, services); err != nil {
				logger.Fatalf("Error parsing flags: %v", err)
			}
			if cfg.Debug {
				logger.SetLevel(logger.DEBUG)
			}

			s, err := New(cfg)
			if err != nil {
				logger.Fatalf("Invalid config: %v", err)
			}
			if err := s.Run(); err != nil {
				logger.Fatalf("Server error: %v", err)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file")
	cmd.PersistentFlags().StringP("addr", "a", ":8910", "listen addr")
	cmd.PersistentFlags().StringP("token", "t", "", "token")
	cmd.PersistentFlags().StringP("transport", "", "tcp", "tunnel transport, tcp|mux|ws")
	cmd.PersistentFlags().IntP("admin-port", "", 0, "admin http port, 0 disables it")
	cmd.PersistentFlags().BoolP("debug", "d", false, "debug log")
	cmd.PersistentFlags().StringArrayVarP(&services, "service", "s", nil, "service as name=type:host:port, repeatable")

	return cmd
}

// applyFlags lets explicitly set flags override the file and environment.
func applyFlags(cmd *cobra.Command, cfg *config.Server, services []string) error {
	flags := cmd.PersistentFlags()
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("token") {
		cfg.Token, _ = flags.GetString("token")
	}
	if flags.Changed("transport") {
		cfg.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("admin-port") {
		cfg.AdminPort, _ = flags.GetInt("admin-port")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}

	for _, s := range services {
		name, svc, err := config.ParseService(s)
		if err != nil {
			return err
		}
		cfg.Services[name] = svc
	}
	return nil
}

package client

import (
	"github.com/spf13/cobra"

	"github.com/abcdlsj/tele/internal/config"
	"github.com/abcdlsj/tele/internal/logger"
)

func Command() *cobra.Command {
	var (
		cfgFile string
		proxies []string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Reach server services through local addresses",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadClient(cfgFile)
			if err != nil {
				logger.Fatalf("Error loading config: %v", err)
			}
			if err := applyFlags(cmd, &cfg, proxies); err != nil {
				logger.Fatalf("Error parsing flags: %v", err)
			}
			if cfg.Debug {
				logger.SetLevel(logger.DEBUG)
			}

			c, err := New(cfg)
			if err != nil {
				logger.Fatalf("Invalid config: %v", err)
			}
			if err := c.Run(); err != nil {
				logger.Fatalf("Client error: %v", err)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file")
	cmd.PersistentFlags().StringP("server-addr", "s", "localhost:8910", "server addr")
	cmd.PersistentFlags().StringP("token", "t", "", "token")
	cmd.PersistentFlags().StringP("transport", "", "tcp", "tunnel transport, tcp|mux|ws")
	cmd.PersistentFlags().BoolP("debug", "d", false, "debug log")
	cmd.PersistentFlags().StringArrayVarP(&proxies, "proxy", "p", nil, "proxy as type:host:port=service, repeatable")
	cmd.PersistentFlags().StringP("speed-limit", "", "", "speed limit for proxies given by flag")

	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Client, proxies []string) error {
	flags := cmd.PersistentFlags()
	if flags.Changed("server-addr") {
		cfg.ServerAddr, _ = flags.GetString("server-addr")
	}
	if flags.Changed("token") {
		cfg.Token, _ = flags.GetString("token")
	}
	if flags.Changed("transport") {
		cfg.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}

	limit, _ := flags.GetString("speed-limit")
	for _, s := range proxies {
		p, err := config.ParseProxy(s)
		if err != nil {
			return err
		}
		p.SpeedLimit = limit
		cfg.Proxies = append(cfg.Proxies, p)
	}
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/blues/agapay/internal/config"
	"github.com/blues/agapay/internal/logger"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "agapay",
		Short: "Crowdfunding campaign views and moderation backed by an on-chain registry",

		// 所有子命令共用
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

			// 加载配置
			conf = config.Load(cfgFile)

			// 初始化日志
			return logger.Init(conf.Log)
		},

		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cancel()
			logger.Sync()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// 配置
	conf    *config.Config
	cfgFile string

	ctx    context.Context
	cancel context.CancelFunc
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
}

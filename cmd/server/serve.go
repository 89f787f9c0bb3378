package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/blues/agapay/internal/chain"
	"github.com/blues/agapay/internal/database"
	"github.com/blues/agapay/internal/logger"
	"github.com/blues/agapay/internal/logic"
	"github.com/blues/agapay/internal/metrics"
	eventmonitor "github.com/blues/agapay/internal/monitor"
	"github.com/blues/agapay/internal/objectstore"
	"github.com/blues/agapay/internal/repository"
	"github.com/blues/agapay/internal/router"
	"github.com/blues/agapay/internal/scheduler"
	"github.com/blues/agapay/internal/view"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background refresh jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 初始化数据库
		db, err := database.Init(conf.Database)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		records := repository.NewModerationRepository(db)
		divergences := repository.NewDivergenceRepository(db)

		// 初始化链客户端
		chainManager, err := chain.NewManager(conf.Chain)
		if err != nil {
			return err
		}
		defer chainManager.Close()
		registry := chainManager.Registry()

		monitor := metrics.NewMonitor()

		tracker := view.NewTracker(nil)
		defer tracker.Close()
		fetcher, err := view.NewFetcher(registry, tracker, conf.View.Workers, monitor)
		if err != nil {
			return err
		}
		defer fetcher.Release()

		campaigns := logic.NewCampaignLogic(registry, records, tracker, fetcher, monitor, conf.View.PageSize)
		submissions := logic.NewSubmissionLogic(records, objectstore.NewUploader(conf.ObjectStore), conf.Moderation, conf.View)
		approvals := logic.NewApprovalCoordinator(registry, records, divergences, monitor, conf.Moderation)

		// 启动定时任务
		tasks, err := scheduler.NewManager()
		if err != nil {
			return err
		}
		err = tasks.RegisterJobs(
			scheduler.NewStatusRefreshJob(campaigns, conf.Task.Interval),
			scheduler.NewDivergenceReportJob(divergences, monitor, conf.Task.Interval),
		)
		if err != nil {
			return err
		}
		tasks.Start()
		defer tasks.Stop()

		go func() {
			if err := campaigns.Refresh(ctx); err != nil {
				logger.Warn("Initial campaign refresh failed: %v", err)
			}
		}()

		// 监听新建众筹事件
		if conf.Chain.PollInterval > 0 {
			events := eventmonitor.NewEventMonitor(chainManager.GetClient(), registry.Factory(), uint64(conf.Chain.Factory.BlockNum), conf.Chain.PollInterval,
				func(ctx context.Context, created []eventmonitor.CreatedEvent) {
					logger.Info("Detected %d new campaign(s), refreshing", len(created))
					if err := campaigns.Refresh(ctx); err != nil {
						logger.Warn("Campaign refresh after creation event failed: %v", err)
					}
				})
			if err := events.Start(ctx); err != nil {
				logger.Warn("Campaign event monitor not started: %v", err)
			} else {
				defer events.Stop()
			}
		}

		// 设置Gin模式
		if conf.Server.Mode == "release" {
			gin.SetMode(gin.ReleaseMode)
		}

		r := router.Setup(router.Deps{
			Config:      conf,
			Campaigns:   campaigns,
			Submissions: submissions,
			Approvals:   approvals,
			Divergences: divergences,
			Monitor:     monitor,
			Health:      chainManager,
		})

		server := &http.Server{
			Addr:    ":" + conf.Server.Port,
			Handler: r,
		}
		errc := make(chan error, 1)
		go func() {
			logger.Info("Server starting on port %s", conf.Server.Port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
			close(errc)
		}()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutting down server")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return server.Shutdown(shutdownCtx)
	},
}

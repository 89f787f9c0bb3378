package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/blues/agapay/internal/chain"
	"github.com/blues/agapay/internal/errs"
	"github.com/blues/agapay/internal/model"
	"github.com/blues/agapay/internal/view"
	"github.com/spf13/cobra"
)

var (
	listFilter    string
	listEmergency bool
	listPage      int
)

func init() {
	campaignsCmd.Flags().StringVar(&listFilter, "filter", "all", "status filter: all, active, successful, failed")
	campaignsCmd.Flags().BoolVar(&listEmergency, "emergency-first", false, "list emergency campaigns first")
	campaignsCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	rootCmd.AddCommand(campaignsCmd)
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Print one page of campaigns straight from the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, ok := model.ParseStatusFilter(listFilter)
		if !ok {
			return errs.New(errs.KindValidation, "campaigns", "unknown filter %q", listFilter)
		}

		chainManager, err := chain.NewManager(conf.Chain)
		if err != nil {
			return err
		}
		defer chainManager.Close()
		registry := chainManager.Registry()

		tracker := view.NewTracker(nil)
		defer tracker.Close()
		fetcher, err := view.NewFetcher(registry, tracker, conf.View.Workers, nil)
		if err != nil {
			return err
		}
		defer fetcher.Release()

		entries, err := registry.ListAll(ctx)
		if err != nil {
			return err
		}
		tracker.SetScope(entries)

		session := view.NewSession(tracker, conf.View.PageSize)
		session.SetEntries(entries)
		session.SetFilter(filter)
		session.SetEmergencyFirst(listEmergency)
		session.SetPage(listPage)

		// 读取过程中显示进度
		stopProgress := showProgress(ctx, tracker, os.Stderr, 500*time.Millisecond)

		result := fetcher.Fetch(ctx, entries)
		tracker.Reevaluate(time.Now())
		err = tracker.Flush(ctx)
		stopProgress()
		if err != nil {
			return err
		}

		printView(session.View(), result)
		return nil
	},
}

type progressSource interface {
	Changes() <-chan struct{}
	Snapshot() *view.Snapshot
}

// showProgress 在 w 上刷新读取进度，返回的函数停止刷新并换行。
// 读取失败时 Resolved 永远追不上 Requested，必须由调用方停止。
func showProgress(ctx context.Context, src progressSource, w io.Writer, every time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-src.Changes():
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			snap := src.Snapshot()
			fmt.Fprintf(w, "\rresolved %d/%d", snap.Resolved, snap.Requested)
			if snap.Resolved >= snap.Requested {
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
		fmt.Fprintln(w)
	}
}

func printView(v *view.View, result view.FetchResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tSTATUS\tBALANCE\tGOAL\tCREATED")
	for _, item := range v.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Address.Hex(),
			item.Name,
			item.Status,
			item.Balance,
			item.Goal,
			time.Unix(item.CreationTime, 0).Format(time.DateOnly),
		)
	}
	w.Flush()

	fmt.Printf("page %d/%d, %d matching, %d of %d campaigns resolved", v.Page, v.TotalPages, v.Total, v.Resolved, v.Requested)
	if result.Failed > 0 {
		fmt.Printf(", %d field reads failed", result.Failed)
	}
	fmt.Println()
}

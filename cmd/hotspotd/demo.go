package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridwatch/hotspotd/internal/engine"
)

// demoReports simulates residents reporting municipal infrastructure
// issues over the course of an afternoon.
var demoReports = []string{
	"水管爆裂严重，需要马上处理",
	"水管爆裂,导致大面积停水,请尽快处理",
	"自来水管道漏水，影响居民用水",
	"燃气泄漏风险，需要马上去处理",
	"燃气管道有异味，疑似泄漏",
	"下水道堵塞，污水外溢",
	"污水井盖破损，存在安全隐患",
	"供水主管道爆裂，导致大面积停水",
	"燃气报警器响起，怀疑泄漏",
	"路灯不亮，影响夜间出行安全",
	"道路照明灯故障，需要维修",
	"交通信号灯不工作，影响交通",
	"垃圾桶满了，需要清理",
	"垃圾箱溢出，异味严重",
}

func newDemoCmd() *cobra.Command {
	var threshold float64
	var top int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run an in-memory clustering and ranking walkthrough",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := engine.DefaultConfig()
			cfg.SimilarityThreshold = threshold

			eng, err := engine.New(cfg)
			if err != nil {
				return err
			}

			now := time.Now()
			for i, text := range demoReports {
				ts := now.Add(-time.Duration(len(demoReports)-i) * 5 * time.Minute)
				if _, err := eng.AddReport(text, ts); err != nil {
					return err
				}
			}

			fmt.Println("Hotspot ranking:")
			for i, rc := range eng.HotspotRanking(top, now) {
				fmt.Printf("%2d. %s  heat=%.2f count=%d cluster=%d\n",
					i+1, rc.Representative, rc.Heat, rc.Count, rc.ClusterID)
			}

			stats := eng.Statistics()
			fmt.Printf("\nreports=%d clusters=%d avg=%.2f\n",
				stats.TotalReports, stats.TotalClusters, stats.AvgReportsPerCluster)

			query := "水管爆裂"
			fmt.Printf("\nSimilar to %q:\n", query)
			for _, r := range eng.FindSimilarReports(query, 3) {
				fmt.Printf("  %.2f  %s\n", r.Similarity, r.Text)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "similarity threshold for cluster assignment")
	cmd.Flags().IntVar(&top, "top", 10, "limit ranking to top N clusters")
	return cmd
}

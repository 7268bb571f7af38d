package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/inference-sim/farmsim/sim"
	"github.com/inference-sim/farmsim/sim/monitor"
	"github.com/inference-sim/farmsim/sim/trace"
	"github.com/inference-sim/farmsim/sim/workload"
)

type farmOptions struct {
	traceLevel  trace.TraceLevel
	out         io.Writer // dashboard destination
	dashboard   bool
	clearScreen bool
}

// farm wires the router, autoscaler, traffic source and dashboard of one run.
type farm struct {
	router    *sim.Router
	scaler    *sim.Autoscaler // nil when the autoscaler is disabled
	traffic   *workload.Generator
	dashboard *monitor.Dashboard // nil when the dashboard is disabled
	trace     *trace.SimulationTrace
}

func newFarm(cfg *sim.FarmConfig, opts farmOptions) (*farm, error) {
	routing, err := sim.ParseRoutingAlgo(cfg.Routing)
	if err != nil {
		return nil, err
	}
	p, err := workload.ParsePattern(cfg.Traffic.Pattern)
	if err != nil {
		return nil, err
	}

	f := &farm{}
	var routerOpts []sim.RouterOption
	var scalerOpts []sim.AutoscalerOption
	if opts.traceLevel == trace.TraceLevelDecisions {
		f.trace = trace.NewSimulationTrace(trace.TraceConfig{Level: opts.traceLevel})
		routerOpts = append(routerOpts, sim.WithTrace(f.trace))
		scalerOpts = append(scalerOpts, sim.WithScalingTrace(f.trace))
	}

	f.router = sim.NewRouter(routing, routerOpts...)
	for _, srv := range cfg.BuildServers(clock.RealClock{}) {
		f.router.Add(srv)
	}

	if cfg.AutoscalerEnabled() {
		f.scaler, err = sim.NewAutoscaler(f.router, cfg.AutoscalerConfig(), scalerOpts...)
		if err != nil {
			return nil, err
		}
	}

	f.traffic, err = workload.NewGenerator(f.router, workload.GeneratorConfig{
		Pattern:  p,
		BaseRate: cfg.TrafficRate(),
		Tick:     cfg.Traffic.Tick,
		RampStep: cfg.TrafficRampStep(),
		Seed:     cfg.TrafficSeed(),
	})
	if err != nil {
		return nil, err
	}

	if opts.dashboard {
		var scaler monitor.ScalerView
		if f.scaler != nil {
			scaler = f.scaler
		}
		f.dashboard = monitor.NewDashboard(f.router, scaler, opts.out,
			monitor.WithTraffic(f.traffic), monitor.WithClearScreen(opts.clearScreen))
	}
	return f, nil
}

// run drives traffic and the dashboard until ctx is done, then stops the
// autoscaler and waits for in-flight requests to finish.
func (f *farm) run(ctx context.Context, refresh time.Duration) error {
	if f.scaler != nil {
		f.scaler.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.traffic.Run(gctx)
	})
	if f.dashboard != nil {
		g.Go(func() error {
			return f.dashboard.Run(gctx, refresh)
		})
	}
	err := g.Wait()

	if f.scaler != nil {
		f.scaler.Stop()
	}
	logrus.Info("waiting for in-flight requests")
	f.router.Wait()
	return err
}

func (f *farm) printSummary(w io.Writer, elapsed time.Duration) {
	stats := f.router.Stats()
	fmt.Fprintln(w, "=== Final Statistics ===")
	fmt.Fprintf(w, "Elapsed              : %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests Sent        : %d\n", f.traffic.Sent())
	fmt.Fprintf(w, "Total Requests       : %d\n", stats.TotalRequests)
	fmt.Fprintf(w, "Failed Requests      : %d\n", stats.FailedRequests)
	fmt.Fprintf(w, "Late Rejections      : %d\n", stats.LateRejections)
	fmt.Fprintf(w, "Success Rate         : %.1f%%\n", stats.SuccessRate)
	fmt.Fprintf(w, "Final Servers        : %d\n", stats.TotalServers)
	for _, srv := range f.router.Servers() {
		snap := srv.Snapshot()
		fmt.Fprintf(w, "  %-20s handled %d\n", snap.ID, snap.TotalHandled)
	}

	if f.trace == nil {
		return
	}
	summary := trace.Summarize(f.trace)
	fmt.Fprintln(w, "=== Trace Summary ===")
	fmt.Fprintf(w, "Routing Decisions    : %d (%d failed)\n", summary.TotalRoutings, summary.FailedRoutings)
	if summary.DroppedRoutings > 0 {
		fmt.Fprintf(w, "Dropped Records      : %d\n", summary.DroppedRoutings)
	}
	fmt.Fprintf(w, "Scale Ups            : %d\n", summary.ScaleUps)
	fmt.Fprintf(w, "Scale Downs          : %d\n", summary.ScaleDowns)
	fmt.Fprintf(w, "Unique Targets       : %d\n", summary.UniqueTargets)
	ids := make([]string, 0, len(summary.TargetDistribution))
	for id := range summary.TargetDistribution {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-20s %d\n", id, summary.TargetDistribution[id])
	}
}

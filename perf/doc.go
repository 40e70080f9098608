// Package perf runs load scenarios programmatically.
//
// A run is described by a Plan (executor, schedule and thresholds) and a
// Workload executed once per iteration. Run drives the workload until the
// schedule completes, an abort-on-fail threshold is violated, or ctx is
// cancelled, and returns a Report carrying the verdict.
//
// # Scenario files
//
// RunFile loads a YAML or JSON scenario and runs its HTTP request:
//
//	report, err := perf.RunFile(ctx, "scenarios/product_read.yaml",
//	    map[string]string{"baseUrl": "http://staging:8000"})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(report.Status())
//
// # Custom workloads
//
// Any function can be driven as a workload. Checks returned by the
// function feed the "checks" metric; a non-nil error marks the iteration
// failed:
//
//	plan := &perf.Plan{
//	    Name:        "order-race",
//	    Executor:    perf.ExecutorSharedIterations,
//	    VUs:         100,
//	    Iterations:  100,
//	    MaxDuration: time.Minute,
//	    Thresholds:  []perf.Threshold{perf.MustThreshold("checks", "rate==1")},
//	}
//	report, err := perf.Run(ctx, plan, perf.WorkloadFunc(func(ctx context.Context, it *perf.Iteration) (perf.Checks, error) {
//	    return perf.Checks{"created": createOrder(ctx)}, nil
//	}))
package perf

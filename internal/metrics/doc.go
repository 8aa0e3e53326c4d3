// Package metrics aggregates what happened during a bot run.
//
// A [Collector] receives one RecordCall per API call from the HTTP client
// and one RecordOutcome per bot from the runner:
//
//	collector := metrics.NewCollector()
//	collector.Plan(50)
//	collector.Start()
//
//	collector.RecordCall("get user", latency, 404, err)
//	collector.RecordOutcome(outcome)
//
//	stats := collector.Stats(collector.Elapsed())
//
// Call latencies are kept per operation in HDR histograms so percentiles
// stay accurate without retaining samples. Failed calls are bucketed by HTTP
// status, or by failure kind when no response was received.
//
// [Handler] and [Serve] expose the same numbers in the Prometheus text
// format on a private registry.
package metrics

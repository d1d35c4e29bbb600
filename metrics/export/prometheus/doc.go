// Package prometheus renders goAccount engine counters and the authenticate
// latency histogram in Prometheus text exposition format.
//
// Counters are named goaccount_*_total. Nothing is registered globally; mount
// [Exporter.Handler] wherever the process serves metrics.
package prometheus

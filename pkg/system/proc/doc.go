// Package proc samples system-wide CPU activity from /proc/stat.
//
// The stress workloads use it to report how saturated the machine was while
// a candidate voltage offset was under test: a run that never pushed the
// cores to full load says little about stability.
//
//   - CPUSample: active and total jiffies at one instant
//   - SampleCPU / ReadCPUSample: read a sample from /proc/stat or any reader
//   - Utilization: busy fraction in [0,1] between two samples
package proc

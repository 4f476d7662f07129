/*
Package probe checks that a target is reachable and healthy.

Three probers are provided: HTTPProber requests a URL and accepts a status
code range, TCPProber dials an address, and ExecProber runs a command on the
node. Watch probes a target on an interval and returns ErrUnhealthy once
Retries consecutive probes have failed, ignoring failures during an optional
StartPeriod.

	p := probe.NewHTTPProber("http://10.0.0.5:8080/health")
	err := probe.Watch(ctx, p, probe.Config{Interval: 10 * time.Second, Retries: 3}, nil)

The probe persistent action runs Watch for as long as the task is assigned
to the node, so a failing target completes the task with a failure.
*/
package probe

// Package health provides composable probes and the liveness/readiness
// handlers mounted by the preview server.
//
// [SiteProbe] reports ready once the served tree has an index file, so a
// preview started before the first build comes up unready rather than
// failing. [ShutdownGate] flips readiness off while the server drains.
package health

// Package services drives the declared background services of a project.
//
// A project declares two kinds of services:
//
//   - container: delegated to an external compose-capable CLI (docker compose,
//     podman compose) with the project's compose file
//   - process: spawned directly through the configured shell in its own
//     process group, with output appended to a per-service log file
//
// # Service Lifecycle
//
// Every (project, service) pair follows the state machine of the state
// package:
//
//	Stopped → Starting → Running | Failed(reason)
//	Running → Stopping → Stopped
//	Running → Unhealthy | Failed (fresh probe during status)
//	Unhealthy → Running | Stopping | Failed
//
// Each transition is committed to the registry before the result of the
// external action is reported, so an interrupted invocation leaves an honest
// Starting or Stopping record that the next status call reconciles.
//
// # Serialization
//
// Start claims a service by committing Starting together with a fresh
// attempt ID under the registry lock. A second invocation that sees a fresh
// Starting record reports the service as already starting instead of
// launching it again. The registry lock is the only synchronization between
// concurrent invocations.
//
// # Failure Policy
//
// Start, Stop and Restart attempt every targeted service and return a Result
// with one ServiceResult per service. Only registry failures abort the call.
//
// # Example Usage
//
//	orch := services.NewOrchestrator(store, services.ComposeCLI{Command: []string{"docker", "compose"}},
//	    services.NewShellLauncher(), services.TCPProber{}, services.Options{Shell: "/bin/zsh"})
//
//	res, err := orch.Start(ctx, proj, nil)
//	if err != nil {
//	    return err // registry failure
//	}
//	for _, s := range res.Services {
//	    fmt.Println(s.Service, s.Action, s.State.Label())
//	}
package services

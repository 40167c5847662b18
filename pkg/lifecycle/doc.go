// Package lifecycle provides the start/stop state machine of the edge agent.
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// Workers are started with Manager.Go and joined with WaitWithTimeout so a
// stuck serial read or HTTP call cannot hold the process past ShutdownTimeout.
package lifecycle

// Package servoflow runs a chain of robot processing modules in a fixed
// cycle. Every cycle hands one state bus (servo channels plus an optional
// camera frame) from module to module in configuration order, and can mirror
// that bus to other processes over a Watermill transport.
//
// A configuration names the modules by registered type, their parameters,
// and optionally a connection for the distribution bridge. The orchestrator
// constructs every active module, opens the bridge, initializes the modules,
// and then loops: receive (SUB), step every module, publish (PUB). Deinit
// tears everything down once and reports every failure it met.
//
// A minimal setup therefore involves loading a Config, creating an
// Orchestrator, and calling Init, Run, and Deinit; cmd/servoflow is the
// runnable entry point and examples/ holds copy/paste setups.
//
// # Transports
//
// The bridge supports these transports once registered:
//   - websocket: the default; PUB binds a port, SUB dials a host
//   - channel: in-memory Go channels for tests and single-process setups
//   - kafka, rabbitmq, nats, jetstream: brokers
//   - aws: SNS/SQS with LocalStack support
//   - http: POSTs the bus to a peer
//   - io: record and replay through a file
//   - sqlite, postgres: persistent bus logs
//
// Import transport/transports to register all of them, or a single transport
// package for just that one.
//
// # Modules
//
// Stage packages under module/stages register themselves with the default
// module registry from init. Import module/stages/all to get every built-in
// stage. Custom stages implement Module and call RegisterModule.
//
// # Step Hooks
//
// WithHooks installs OnStepStart, OnStepDone, and OnStepError callbacks for
// custom logging, metrics collection, and alerting around each module step.
package servoflow

package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	ConfigPath string
	// Escalate maps the run outcome to a failure or success signal after
	// the run finishes, in one command invocation.
	Escalate bool
}

type EscalateFlags struct {
	ConfigPath string
}

type StatusFlags struct {
	ConfigPath string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string
	BasePath   string
}

type DemoServiceFlags struct {
	Addr         string
	AutoRun      bool
	AutoRunDelay time.Duration
}

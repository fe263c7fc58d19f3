package main

import "time"

// Flag structs to decouple cobra from logic for testing.

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	Daemon  bool
	PidFile string
	LogFile string
}

// OnceFlags holds flags for the once command.
type OnceFlags struct {
	JSON bool
}

// CheckFlags holds flags for the check command.
type CheckFlags struct {
	IdleSeconds float64
	JSON        bool
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	Name string
	JSON bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

// ClientFlags holds the daemon connection flags shared by pause and resume.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// TemplateCreateFlags holds flags for the template command.
type TemplateCreateFlags struct {
	Type   string
	Name   string
	Output string
	Force  bool
}

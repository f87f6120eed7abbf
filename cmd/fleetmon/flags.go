package main

import "time"

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command, which talks to a
// running daemon instead of loading the config.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// CycleFlags holds flags for the cycle command.
type CycleFlags struct {
	// Via daemon API when set; otherwise the cycle runs in-process
	// from the config file.
	APIUrl     string
	APITimeout time.Duration
}

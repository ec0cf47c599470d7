package main

import "time"

// RootFlags are persistent flags shared by every command. Non-empty values
// override the config file.
type RootFlags struct {
	ConfigPath string
	LogFile    string
	Debug      bool
	APIListen  string
}

type ValidateFlags struct {
	Quiet bool // only report errors
}

type StatusFlags struct {
	Timeout time.Duration // bound for each port lookup
}

// CtlFlags configure the commands that talk to a running dashboard's API.
type CtlFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
	Tail       int
	Limit      int
}

package main

import (
	"strconv"
	"time"
)

// funcVar, funcBoolVar, funcIntVar and funcDurationVar adapt a plain Go
// function to flag.Value: each flag, once parsed, hands its converted
// value to that function, which decides where the value is recorded.

// funcVar is a flag.Value that invokes fn with the flag's string value.
type funcVar func(s string) error

func (f funcVar) Set(s string) error { return f(s) }
func (f funcVar) String() string     { return "" }

// funcBoolVar is a flag.Value that invokes fn with the flag's bool value.
// Implementing IsBoolFlag lets it be passed on the command line as a bare
// "-flag" switch instead of requiring "-flag=true".
type funcBoolVar func(b bool) error

func (f funcBoolVar) Set(s string) error {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	return f(b)
}
func (f funcBoolVar) String() string   { return "" }
func (f funcBoolVar) IsBoolFlag() bool { return true }

// funcIntVar is a flag.Value that invokes fn with the flag's int value.
type funcIntVar func(i int) error

func (f funcIntVar) Set(s string) error {
	i, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	return f(i)
}
func (f funcIntVar) String() string { return "" }

// funcDurationVar is a flag.Value that invokes fn with the flag's
// duration value.
type funcDurationVar func(d time.Duration) error

func (f funcDurationVar) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	return f(d)
}
func (f funcDurationVar) String() string { return "" }

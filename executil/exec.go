// Copyright © 2018 Intel Corporation
//
// SPDX-License-Identifier: GPL-3.0-only

// Package executil runs external helper programs and captures their
// output, extended with Supervised, a start/wait-split process the
// job engine uses to support cooperative cancellation between Start
// and exit.
package executil

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/blockdevd/blockdevd/log"
)

// Output interface allows implementors to process the output from a
// command according to their specific case
type Output interface {
	Process(line string)
}

type runLogger struct{}

func (rl runLogger) Write(p []byte) (n int, err error) {
	for _, curr := range strings.Split(string(p), "\n") {
		if curr == "" {
			continue
		}

		log.Debug(curr)
	}
	return len(p), nil
}

func run(writer *runLogger, args ...string) error {
	log.Debug("%s", strings.Join(args, " "))

	exe := args[0]
	cmdArgs := args[1:]

	c := exec.Command(exe, cmdArgs...)
	c.Stdout = writer
	c.Stderr = writer

	return c.Run()
}

// RunAndLog executes a command and writes its combined output to the
// default logger.
func RunAndLog(args ...string) error {
	return run(&runLogger{}, args...)
}

// Run executes a command and uses writer to write both stdout and stderr.
func Run(writer *bytes.Buffer, args ...string) error {
	log.Debug("%s", strings.Join(args, " "))

	c := exec.Command(args[0], args[1:]...)
	c.Stdout = writer
	c.Stderr = writer

	return c.Run()
}

// RunAndProcessOutput executes a command to completion and feeds each
// stdout line to output.Process as it arrives.
func RunAndProcessOutput(output Output, args ...string) error {
	log.Debug("%s", strings.Join(args, " "))

	c := exec.Command(args[0], args[1:]...)

	stdout, err := c.StdoutPipe()
	if err != nil {
		log.Error("Could not connect a pipe to Stdout")
		return err
	}

	if err := c.Start(); err != nil {
		log.Error("Failed to start command execution")
		return err
	}

	scannerOut := bufio.NewScanner(stdout)
	for scannerOut.Scan() {
		output.Process(scannerOut.Text())
	}

	if err := scannerOut.Err(); err != nil {
		log.Error("An error occurred while reading stdout")
		return err
	}

	if err := c.Wait(); err != nil {
		log.Error("An error occurred executing command: \"%s\". Error: %s", strings.Join(args, " "), err)
		return err
	}

	return nil
}

// Supervised is a started helper process whose stdout lines are
// streamed to an Output as they arrive, whose stderr is captured
// verbatim, and which can be signalled before it exits. Jobs use this
// (instead of RunAndProcessOutput) because cancellation needs a
// Signal between Start and Wait.
type Supervised struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
	done   chan error
}

// Start forks+execs argv, wiring stdout to output.Process line-by-line
// and buffering stderr for later retrieval.
func Start(argv []string, output Output) (*Supervised, error) {
	log.Debug("%s", strings.Join(argv, " "))

	c := exec.Command(argv[0], argv[1:]...)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("connect stdout pipe: %w", err)
	}

	s := &Supervised{cmd: c, done: make(chan error, 1)}
	c.Stderr = &s.stderr

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			output.Process(scanner.Text())
		}
		s.done <- c.Wait()
	}()

	return s, nil
}

// Wait blocks until the child exits and returns its exec error (nil
// on a zero exit code).
func (s *Supervised) Wait() error {
	return <-s.done
}

// Signal delivers sig to the child process.
func (s *Supervised) Signal(sig syscall.Signal) error {
	if s.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return s.cmd.Process.Signal(sig)
}

// Stderr returns the child's accumulated stderr. Safe to call only
// after Wait has returned.
func (s *Supervised) Stderr() string {
	return s.stderr.String()
}

// ExitCode returns the child's exit status, or -1 if it could not be
// determined (e.g. killed by a signal).
func (s *Supervised) ExitCode() int {
	if s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

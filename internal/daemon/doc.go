// Package daemon provides the main orchestration for archsensed.
// It owns the hardware state, serves the control socket, polls live
// readings and re-applies settings after resume.
package daemon

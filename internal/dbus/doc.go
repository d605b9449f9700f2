// Package dbus listens for systemd-logind sleep signals on the system bus
// so the daemon can re-apply hardware settings after resume.
package dbus

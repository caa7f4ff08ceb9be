// Package app assembles the poller from configuration and runs it.
package app

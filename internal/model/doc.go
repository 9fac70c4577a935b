// Package model contains the shared interfaces and data structures.
//
// # Criteria for adding a type to this package
//
// This package should contain two types:
//
// 1. important interfaces that are shared by several packages
// within the codebase, with the objective of separating unrelated
// pieces of code and making unit testing easier;
//
// 2. important pieces of data that are shared across different
// packages (e.g., the WAIT_RETRY signal).
//
// In general, this package should not contain logic, unless
// this logic is strictly related to data structures and we
// cannot implement this logic elsewhere.
//
// # Content of this package
//
// - logger.go: generic definition of an apex/log compatible logger,
// used in several places across the codebase;
//
// - resolver.go: the interface implemented by IPv4 resolvers;
//
// - stream.go: the byte stream consumed by the I/O framework and
// the connection providers producing such streams.
package model

// Package model contains the persisted records of the merge queue: pull
// requests, the builds testing them and the known state of base branches.
package model

// Package mysql persists the ledger journal and the operation records of the
// asynchronous pipeline. It ships a file-backed journal for single-node
// development and MySQL repositories with embedded schema migrations for
// shared deployments.
package mysql

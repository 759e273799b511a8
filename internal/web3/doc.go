// Package web3 connects the ledger to EVM chains. The chain is used as an
// external, monotonically advancing time source: the timestamp of the latest
// block stamps each queued call before it is applied.
package web3

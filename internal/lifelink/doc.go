// Package lifelink holds the pure rules of the donor matching engine: the ABO/Rh compatibility
// matrix, the donation cooldown calculator and the requisition lifecycle. Nothing in this package
// touches storage or keeps state, so every function is safe for concurrent use.
package lifelink

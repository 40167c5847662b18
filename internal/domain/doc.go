// Package domain contains the core entities of edgeship: the canonical
// Event decoded from the controller stream, the OutboxRecord that wraps it
// while it waits for delivery, and the error taxonomy shared by every stage.
//
// The package has no infrastructure dependencies beyond decimal arithmetic.
package domain

// Package mongo stores audit events in a MongoDB collection, one document
// per event, using the bson tags on [authcore.AuditEvent].
//
// The engine's dispatcher calls [Sink.Emit] from its own goroutine, so a slow
// database backs up the dispatcher buffer rather than requests.
package mongo

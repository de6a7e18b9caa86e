// Package stage defines the executor contract shared by the six pipeline
// stages and the registry the dispatcher resolves task types through.
package stage

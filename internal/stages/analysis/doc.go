// Package analysis asks the LLM to assess one transcribed segment.
//
// The model's answer is stored verbatim as compact JSON; nothing in the
// pipeline interprets it beyond checking that it parses. Segments without
// speech are recorded with a fixed placeholder instead of spending a model
// call.
package analysis

// Command rivalcast is the operator CLI. It works directly against the task
// store, so every command also works while rivalcastd is stopped; a running
// daemon picks up the resulting rows on its next poll.
package main

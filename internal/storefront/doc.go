// Package storefront drives marketplace transactions.
//
// Each user action becomes an Intent. An Orchestrator turns an intent into a
// single-use Flow that walks a fixed sequence of states:
//
//   - Idle
//   - Preparing
//   - AwaitingUpload (listing creation only)
//   - AwaitingSubmission
//   - AwaitingConfirmation
//   - Succeeded or Failed
//
// Stages may be skipped but never revisited, and both end states are final.
// Every transition is published to a StatusSink. Input and session checks
// run before anything touches the network, and a successful flow triggers a
// catalog resync.
package storefront

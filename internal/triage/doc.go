// Package triage provides the business boundary for Beacon's emergency call triage.
// It defines the taxonomy (priority levels and departments), the Record persisted
// for every classified call, the Adapter that turns a transcript into a raw
// classification through an LLM Provider, and the Pipeline that validates,
// normalizes, persists (Store) and broadcasts (Notifier) the result.
package triage

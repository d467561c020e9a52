package types

// Version is the canonical project version shared by the CLI, the journal
// record format and the notification payloads.
const Version = "0.2.0"

// Package protocol implements the Roomwire wire protocol.
//
// The protocol exchanges discrete JSON object frames ("envelopes") over a
// message-oriented duplex connection. Each envelope carries a "type"
// discriminator; a closed set of envelope kinds is defined below.
//
// # Envelope Kinds
//
//   - message: chat message (outbound and inbound)
//   - edit: content replacement for an existing message
//   - delete: message removal (outbound confirmed variant uses "action")
//   - typing: typing indicator signal
//   - presence: online/offline toggle for a single user (inbound only)
//   - user.list: wholesale roster snapshot (inbound only)
//   - reaction / reaction_update: reaction toggle request and resulting state
//   - mark_read / message_status: read receipt request and delivery/read fan-out
//   - get_undelivered: bootstrap request for messages missed while offline
//
// # Legacy Shapes
//
// Older servers emit two envelope shapes without a "type" field. Both are
// still recognized on decode:
//
//   - {id, username, content/message, ...} decodes as a message
//   - {typing: true, is_typing, username} decodes as a typing signal
//
// Unknown "type" values do not fail decoding: the envelope is classified as
// KindUnknown (or as a message when it carries the legacy message shape) and
// left to the caller. Unrecognized fields are always ignored.
//
// # Correlation
//
// Outbound messages carry a client-generated "client_id" token which servers
// echo back on the confirmed copy. Clients use it to replace an optimistic
// local entry in place instead of appending a duplicate.
package protocol

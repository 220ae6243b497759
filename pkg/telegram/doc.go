// Package telegram pulls the account's Saved Messages through a
// Bot-API-style HTTP gateway.
//
// Responses arrive in the ok/result envelope, errors carry an
// error_code and description, and pagination walks message ids
// downward with an offset cursor. The login flow follows Telegram's
// sequence: send a code to the phone, sign in with it, and supply the
// two-step verification password when the account has one.
//
// SavedFeed implements the extraction loop's Feed interface and
// StoreSink bridges messages into the archive.
package telegram

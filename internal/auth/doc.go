// Package auth validates bearer tokens for the hub's HTTP and WebSocket API.
//
// Two kinds of token are accepted:
//   - Static long-lived tokens listed in the configuration, either verbatim
//     or as Argon2id PHC hashes so the plaintext never sits on disk
//   - HS256 JWTs signed with the configured secret, minted by the
//     "grayhub token" command
//
// There are no user accounts or roles: a valid token grants the whole API.
package auth

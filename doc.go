// Package identity is the session authority for Telegram-backed products:
// it verifies widget login assertions, mints JWT access tokens, and manages
// single-use refresh credentials grouped into revocable families.
//
// Sessions:
//   - A login opens a refresh token family. Each rotation advances the
//     family's current token id with a compare-and-swap, so a replayed
//     credential loses the race and the whole family is revoked. Losing a
//     device is contained by LogoutEverywhere.
//   - Impersonation opens a family on behalf of another user while the
//     operator's id rides along in the claims. Admin-only surfaces refuse
//     impersonated sessions.
//
// Ledger:
//   - Balance and license mutations are privileged, atomic, and append an
//     entry to the ledger inside the same transaction. Debits are guarded so
//     a balance never goes negative.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther, the
//     impersonation controller, the ledger, and the sync gateway. Sinks run
//     best-effort (errors are logged) so you can forward events to a
//     database or queue without blocking authentication.
package identity

// Package auth provides the request authentication gateway for gatehouse.
//
// The [Gateway] runs in front of the route multiplexer. It skips
// authentication for CORS preflight (OPTIONS), TRACE, and the version
// discovery endpoint; every other request is passed to a pluggable
// [Authenticator], which returns a [Verdict].
//
// An accepted verdict is turned into an [Identity] (site id, user info,
// secrets, admin flag, authenticated user) with defaults filled in once,
// and each field is written into the request's [Properties] under a
// well-known key. Handlers read them back with [SiteIDFromContext],
// [IsAdmin], [IdentityFromContext] and friends. A rejected verdict is
// answered with 401 through the [ErrorResponder] and the request ends.
//
// Authenticators compose with [Chain], which uses three-outcome voting:
// each member returns Yes (identity found), No (credentials invalid), or
// Abstain (can't handle). A configurable default decides when all
// members abstain. Concrete backends live in the subpackages.
package auth

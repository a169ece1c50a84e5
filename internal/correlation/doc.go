// Package correlation matches asynchronous replies to the requests that
// caused them.
//
// Ownership boundary:
// - SNAC request ids (Transactions), session scoped
// - rendezvous cookies (Cookies), connection scoped
package correlation

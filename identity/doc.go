// Package identity maps e-mail addresses to signaling peer identifiers and
// resolves peer identifiers back to people.
//
// The broker namespace does not allow '@' or '.', so ToPeerID lower-cases an
// address and replaces both with '_'. ToEmail reverses the mapping by treating
// the first '_' as the '@' boundary and every later one as a '.':
//
//	id, _ := identity.ToPeerID("Alice@Mail.Example.com") // "alice_mail_example_com"
//	identity.ToEmail(id)                                 // "alice@mail.example.com"
//
// The reverse mapping is lossy when the local part contains underscores, so
// it is only a best-effort routing key. The Directory holds the known-users
// list and is the source of truth for display names and for resolving bare
// usernames to routable identifiers.
package identity

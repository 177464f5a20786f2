// Package rbac implements role-based access control: the user/role/permission
// data model, the authority-of-record Directory, and the cache-accelerated
// permission Resolver.
//
// The Resolver answers "does user U have permission P / role R?" with
// read-through caching on top of the shared cache package. Correctness
// depends on every mutation path calling InvalidateUser or InvalidateRole;
// the management handlers in this package do so for each of their write
// operations. InvalidateRole performs a bulk pattern eviction of all
// per-user permission and role entries because the cache keeps no reverse
// index from role to affected users.
//
// Permission checks fail closed: when the authority of record cannot be
// reached the resolver reports "no permission" and logs the failure.
package rbac

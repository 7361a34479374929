// Package permission resolves what an admin may do and manages the role and
// permission catalog behind it.
//
// # Resolution
//
// An admin's effective set is the assigned role's permissions plus the
// per-admin additions, minus the per-admin removals. Removal wins when a code
// is both added and removed. SUPER_ADMIN resolves to the wildcard set, which
// contains every code, including ones created later.
//
// Customers never go through the [Resolver]; they carry the fixed
// [CustomerPermissions].
//
// # Caching
//
// [Resolver] caches each admin's set for a bounded time in a [Cache]. Every
// [Service] mutation invalidates the affected admins before it returns, so
// the TTL only bounds staleness for changes made outside the service.
// Invalidation also bumps a per-admin generation stored next to the entry,
// and a resolution that started before the bump never writes back. With the
// Redis cache this holds across instances.
//
// # Catalog guards
//
// System roles cannot be modified or deleted, a role still assigned to an
// admin cannot be deleted, and a permission still granted by a role cannot be
// deleted.
package permission

/*
Package viewcache answers "which records are visible in this viewport" for a
map client, ordered by descending importance and capped at a maximum count.

Results are cached per queried bounding box. A later query whose box lies
inside a cached box is answered by filtering that entry, without touching the
dataset provider. A miss scans the provider, evicts every cached entry the new
box covers, and stores the new entry.

	c := viewcache.New(provider, viewcache.WithName("map"))
	recs, err := c.Query(ctx, models.NewBoundingBox(49, 3, 51, 5), 50)

# Entries

Entries computed from a provider scan are exhaustive: they hold every record
inside their box. Only exhaustive entries are used to answer queries for
smaller boxes. Entries added with Prime are derived and only answer queries
for exactly their own box, up to the number of results they hold.

No cached entry is ever contained in an exhaustive entry.

# Concurrency

Cache is safe for concurrent use. Concurrent misses for the same box share a
single provider call. A caller whose context is cancelled returns
immediately; the provider call it started keeps running for the other
waiters and still populates the cache.

# Errors

Malformed boxes and negative limits fail with ErrInvalidArgument before the
provider is consulted. Provider errors are returned unchanged and leave the
cache as it was.

Boxes crossing the antimeridian are not supported.
*/
package viewcache

package redis

// Key layout. Records are JSON blobs; the sorted sets are scan indexes
// keyed by the timestamp each scan filters on.
//
//	lro:op:{id}        operation record (JSON)
//	lro:key:{key}      idempotency key → operation ID
//	lro:queued         ZSET, score = visible_at (ms), queued ops
//	lro:queued_at      ZSET, score = submitted_at (ms), queued ops
//	lro:running        ZSET, score = heartbeat_at (ms), running ops
//	lro:expiring       ZSET, score = expires_at (ms), terminal ops
//	lro:tombstones     ZSET, score = deleted_at (ms), reaped op IDs
const (
	opKeyPrefix  = "lro:op:"
	idemKeyPrefx = "lro:key:"

	queuedKey     = "lro:queued"
	queuedAtKey   = "lro:queued_at"
	runningKey    = "lro:running"
	expiringKey   = "lro:expiring"
	tombstonesKey = "lro:tombstones"
)

func opKey(opID string) string  { return opKeyPrefix + opID }
func idemKey(key string) string { return idemKeyPrefx + key }

package redis

// Redis key naming conventions for governor data.
// All keys are prefixed with "governor:" to avoid collisions.

const keyPrefix = "governor:"

// ── Operation keys ──

// opKey returns the key for an operation entity: governor:op:{id}
func opKey(id string) string { return keyPrefix + "op:" + id }

// opIDsKey is the Set tracking all operation IDs for enumeration.
const opIDsKey = keyPrefix + "op_ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry entity: governor:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Idempotency keys ──

// idemMember is the index member for a (tenant, key) pair. The tenant
// comes first so keys cannot collide across tenants.
func idemMember(tenantID, key string) string { return tenantID + ":" + key }

// idemKey returns the key for an idempotency record:
// governor:idem:{tenantId}:{key}
func idemKey(tenantID, key string) string {
	return keyPrefix + "idem:" + idemMember(tenantID, key)
}

// idemMembersKey is the Set tracking all idempotency members for sweeps.
const idemMembersKey = keyPrefix + "idem_members"

// ── Breaker keys ──

// breakerKey returns the key for a breaker status: governor:breaker:{key}
func breakerKey(key string) string { return keyPrefix + "breaker:" + key }

// breakerKeysKey is the Set tracking all breaker keys for enumeration.
const breakerKeysKey = keyPrefix + "breaker_keys"

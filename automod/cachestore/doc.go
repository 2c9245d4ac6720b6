// Short-lived cache for rendered read paths (eg, forum feed pages), stored as JSON strings with a fixed TTL and explicit purging.
//
// Includes an interface and implementations using redis and in-process memory. A cache miss is not an error: Get returns an empty string.
package cachestore

/*
Package memory keeps lazythumb inside its container memory limit.

ConfigureFromEnv derives GOMEMLIMIT from MEMORY_LIMIT (bytes) and
MEMORY_RATIO, unless GOMEMLIMIT is already set. CacheBudget turns the
result into a byte budget for the thumbnail memory tier when
MEMORY_CACHE_BYTES is not configured.

Monitor samples heap usage. Above the high water mark it runs the
registered OnPressure handlers; main wires the thumbnail cache's TrimMemory
there. Above the critical mark it pauses decoding: the generator calls
Wait before every decode and blocks until usage drops back under the high
mark.
*/
package memory

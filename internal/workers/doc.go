/*
Package workers sizes and bounds the CPU-heavy parts of lazythumb.

Worker counts come from GOMAXPROCS, which Go sets from the container CPU
limit, rather than runtime.NumCPU, which reports host CPUs:

	decoders := workers.ForCPU(8)      // 1 per CPU, at most 8
	fetchers := workers.ForIO(16)      // 2 per CPU, at most 16

DECODE_WORKERS overrides the computed count (still capped by the limit).

Limiter is a context-aware semaphore. The thumbnail generator wraps every
decode/resize in Acquire/Release so a burst of requests from a directory
view cannot start more concurrent decodes than the box has CPUs:

	lim := workers.NewLimiter(workers.ForCPU(0))
	if err := lim.Acquire(ctx); err != nil {
	    return err
	}
	defer lim.Release()
*/
package workers

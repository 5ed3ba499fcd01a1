package thumbnail

import (
	"context"
	"image"

	"lazythumb/internal/item"
	"lazythumb/internal/notify"
)

// Watch emits the current thumbnail of ref. If it is only a pending
// placeholder, Watch asks the source to materialize ref, waits for the
// download to complete, and emits the regenerated thumbnail. The channel
// closes after the last emission or when ctx ends.
func (g *Generator) Watch(ctx context.Context, engine *notify.Engine, ref item.Ref, size item.Size) <-chan image.Image {
	out := make(chan image.Image, 1)

	go func() {
		defer close(out)

		res := g.Generate(ctx, ref, size)
		if !send(ctx, out, res.Image) || res.Origin != OriginPending {
			return
		}

		done, sub := engine.SubscribeToItemCompletion(ctx, ref)
		defer sub.Cancel()

		if err := g.src.BeginMaterializing(ctx, ref); err != nil {
			log.Debug("cannot request %s: %v", ref.Path, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case ev, ok := <-done:
			if !ok || ev.Err != nil {
				if ok {
					log.Debug("waiting for %s failed: %v", ref.Path, ev.Err)
				}
				return
			}
		}

		send(ctx, out, g.Refresh(ctx, ref, size).Image)
	}()
	return out
}

func send(ctx context.Context, out chan<- image.Image, img image.Image) bool {
	select {
	case out <- img:
		return true
	case <-ctx.Done():
		return false
	}
}

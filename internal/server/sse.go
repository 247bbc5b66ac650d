package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"drawstream/internal/status"
)

// registerEvents streams status updates over SSE. Each message is a
// {type, payload} envelope; clients reconnect freely since every update is a
// full snapshot rather than a delta.
func registerEvents(api huma.API, p Pipeline) {
	sse.Register(api, huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Live status event stream",
	}, map[string]any{
		"status": status.Event{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ch, cancel := p.Events()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}

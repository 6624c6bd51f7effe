// Package remote is the serving half of the bridge: it answers request
// frames with response frames by dispatching to registered method handlers.
//
// Transports embed a Responder wherever they host a remote context:
//
//	r := remote.NewResponder()
//	r.RegisterFunc("sum", func(ctx context.Context, args []json.RawMessage) (any, error) {
//	    var a, b int
//	    if err := remote.DecodeArgs(args, &a, &b); err != nil {
//	        return nil, err
//	    }
//	    return a + b, nil
//	})
//
//	reply, ok := r.Handle(ctx, frame)
package remote

// Package interceptors wraps remote calls with cross-cutting behaviour.
//
// An interceptor sees every call before it reaches the bridge and every
// result on the way back. Chains run interceptors in the order they were
// added:
//
//	chain := interceptors.NewChain(logger).
//		Add(interceptors.NewLoggingInterceptor(logger)).
//		Add(interceptors.NewMethodFilter("echo", "sum")).
//		Add(interceptors.NewTimeoutInterceptor(5 * time.Second))
//
//	result, err := chain.Execute(ctx, interceptors.Call{Method: "echo", Args: args}, invoker)
//
// Custom interceptors implement Interceptor or use NewInterceptorFunc.
package interceptors

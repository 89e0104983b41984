package domain

import "context"

// RequestInterceptor transforms a config before it reaches the transport.
// Returning a nil config without an error is a configuration error.
type RequestInterceptor interface {
	InterceptRequest(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)
}

// ResponseInterceptor transforms a response before status classification.
type ResponseInterceptor interface {
	InterceptResponse(ctx context.Context, resp *Response) (*Response, error)
}

// ErrorInterceptor observes a rejection before it reaches the caller. It may mutate
// the envelope but cannot turn the rejection into a success; a returned error is
// logged and otherwise ignored.
type ErrorInterceptor interface {
	InterceptError(ctx context.Context, err RequestError) error
}

// RequestInterceptorFunc adapts a function to RequestInterceptor.
type RequestInterceptorFunc func(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error)

func (f RequestInterceptorFunc) InterceptRequest(ctx context.Context, cfg *RequestConfig) (*RequestConfig, error) {
	return f(ctx, cfg)
}

// ResponseInterceptorFunc adapts a function to ResponseInterceptor.
type ResponseInterceptorFunc func(ctx context.Context, resp *Response) (*Response, error)

func (f ResponseInterceptorFunc) InterceptResponse(ctx context.Context, resp *Response) (*Response, error) {
	return f(ctx, resp)
}

// ErrorInterceptorFunc adapts a function to ErrorInterceptor.
type ErrorInterceptorFunc func(ctx context.Context, err RequestError) error

func (f ErrorInterceptorFunc) InterceptError(ctx context.Context, err RequestError) error {
	return f(ctx, err)
}

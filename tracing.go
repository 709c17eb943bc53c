package swrcache

import (
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
)

func (s *Store[V]) startSpan(op string, key Key, parent opentracing.SpanContext) opentracing.Span {
	var opts []opentracing.StartSpanOption
	if parent != nil {
		opts = append(opts, opentracing.ChildOf(parent))
	}
	span := s.tracer.StartSpan(op, opts...)
	ext.SpanKindRPCClient.Set(span)
	span.SetTag("cache.key", key.String())
	return span
}

func finishSpan(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogFields(otlog.Error(err))
	}
	span.Finish()
}

package tracing

import (
	"io"

	"github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	jaegerlog "github.com/uber/jaeger-client-go/log"
	"github.com/uber/jaeger-lib/metrics"
)

const ServiceName = "dsrouter"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init installs a jaeger tracer as the global opentracing tracer. An empty
// url leaves the noop tracer in place.
func Init(url string) (io.Closer, error) {
	if url == "" {
		return nopCloser{}, nil
	}
	cfg := jaegercfg.Configuration{
		ServiceName: ServiceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:              "const",
			Param:             1,
			SamplingServerURL: url,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
		Gen128Bit: true,
		Tags: []opentracing.Tag{
			{Key: "span.kind", Value: "client"},
		},
	}

	return cfg.InitGlobalTracer(
		ServiceName,
		jaegercfg.Logger(jaegerlog.NullLogger),
		jaegercfg.Metrics(metrics.NullFactory),
	)
}
